// Package jobfile loads declarative job definitions from a YAML file and applies them to the scheduler.
// The file can be watched for changes, every change re-applies all jobs it defines.
package jobfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/umputun/qman/app/enums"
	"github.com/umputun/qman/app/jobdata"
	"github.com/umputun/qman/app/jobform"
	"github.com/umputun/qman/app/scheduler"
)

// Config is the job file layout
type Config struct {
	Jobs []Job `yaml:"jobs" json:"jobs" jsonschema:"required,minItems=1,description=jobs to create or update"`
}

// Job is a single job definition, group defaults to DEFAULT and method to GET
type Job struct {
	Name        string            `yaml:"name" json:"name" jsonschema:"required,minLength=1"`
	Group       string            `yaml:"group,omitempty" json:"group,omitempty" jsonschema:"default=DEFAULT"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Cron        string            `yaml:"cron" json:"cron" jsonschema:"required,minLength=1,description=quartz cron expression with seconds"`
	Method      string            `yaml:"method,omitempty" json:"method,omitempty" jsonschema:"enum=GET,enum=POST,enum=PUT,enum=DELETE,default=GET"`
	URL         string            `yaml:"url" json:"url" jsonschema:"required,minLength=1"`
	Body        string            `yaml:"body,omitempty" json:"body,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty" jsonschema:"description=sent as header.<name> properties"`
	Props       map[string]string `yaml:"props,omitempty" json:"props,omitempty"`
	StartTime   time.Time         `yaml:"start_time,omitempty" json:"start_time,omitzero"`
	EndTime     time.Time         `yaml:"end_time,omitempty" json:"end_time,omitzero"`
}

// Key returns "group/name" of the job with the default group applied
func (j Job) Key() string {
	group := j.Group
	if group == "" {
		group = scheduler.DefaultGroup
	}
	return group + "/" + j.Name
}

// Form converts the job into a console form
func (j Job) Form() jobform.Form {
	res := jobform.New()
	res.JobName = j.Name
	if j.Group != "" {
		res.JobGroup = j.Group
	}
	if j.Method != "" {
		res.Method = strings.ToUpper(j.Method)
	}
	res.Description = j.Description
	res.CronExpression = j.Cron
	res.URL = j.URL
	res.Body = j.Body
	res.StartTime, res.EndTime = j.StartTime, j.EndTime

	for k, v := range j.Props {
		res.SetProp(k, v)
	}
	for k, v := range j.Headers {
		res.SetProp(jobdata.HeaderPrefix+k, v)
	}
	slices.SortFunc(res.Props, func(a, b jobdata.Property) int { return strings.Compare(a.Key, b.Key) })
	return res
}

// Load reads and parses the job file, unknown fields are rejected
func Load(file string) (*Config, error) {
	fh, err := os.Open(file) //nolint:gosec // file name from cli option
	if err != nil {
		return nil, fmt.Errorf("can't open job file %s: %w", file, err)
	}
	defer fh.Close()

	var res Config
	dec := yaml.NewDecoder(fh)
	dec.KnownFields(true)
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("can't parse job file %s: %w", file, err)
	}
	return &res, nil
}

// Verify checks every job with the same rules the console form uses, plus duplicate keys
func Verify(cfg *Config) error {
	if cfg == nil || len(cfg.Jobs) == 0 {
		return errors.New("at least one job is required")
	}
	seen := map[string]int{}
	var errs []error
	for i, j := range cfg.Jobs {
		if err := j.Form().Validate(enums.FormModeCreate); err != nil {
			errs = append(errs, fmt.Errorf("job %d (%s): %w", i+1, j.Name, err))
			continue
		}
		if prev, ok := seen[j.Key()]; ok {
			errs = append(errs, fmt.Errorf("job %d (%s): duplicate of job %d", i+1, j.Key(), prev))
			continue
		}
		seen[j.Key()] = i + 1
	}
	return errors.Join(errs...)
}

// Saver creates or updates jobs on the scheduler
type Saver interface {
	SaveJob(ctx context.Context, req scheduler.JobRequest) error
}

// Result of applying a job file
type Result struct {
	Applied []string // keys of saved jobs
	Failed  []string // keys of rejected jobs
}

// Apply verifies the config and saves every job. A rejected job doesn't stop the others,
// all failures are returned joined.
func Apply(ctx context.Context, saver Saver, cfg *Config) (Result, error) {
	res := Result{}
	if err := Verify(cfg); err != nil {
		return res, fmt.Errorf("invalid job file: %w", err)
	}

	var errs []error
	for _, j := range cfg.Jobs {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("apply canceled: %w", err)
		}
		if err := saver.SaveJob(ctx, j.Form().Request()); err != nil {
			res.Failed = append(res.Failed, j.Key())
			errs = append(errs, fmt.Errorf("job %s: %w", j.Key(), err))
			continue
		}
		log.Printf("[INFO] job %s applied", j.Key())
		res.Applied = append(res.Applied, j.Key())
	}
	return res, errors.Join(errs...)
}

// Schema returns JSON schema of the job file
func Schema() *jsonschema.Schema {
	res := jsonschema.Reflect(&Config{})
	res.Title = "qman job file"
	res.Description = "Jobs created or updated on the scheduler by qman --apply"
	return res
}

// Watcher reports job file changes
type Watcher struct {
	file        string
	updInterval time.Duration
}

// NewWatcher makes a watcher for the file, checked every updInterval
func NewWatcher(file string, updInterval time.Duration) *Watcher {
	log.Printf("[INFO] job file %s, check every %v", file, updInterval)
	return &Watcher{file: file, updInterval: updInterval}
}

func (w *Watcher) String() string { return w.file }

// Changes gets updates channel. Each time the file modification time changes it is parsed and
// sent to the channel. A change should be at least half of the interval old, so intermediate
// saves are skipped. Files failing to parse are logged and not sent.
func (w *Watcher) Changes(ctx context.Context) (<-chan *Config, error) {
	mtime := func() (time.Time, error) {
		st, err := os.Stat(w.file)
		if err != nil {
			return time.Time{}, fmt.Errorf("can't stat job file %s: %w", w.file, err)
		}
		return st.ModTime(), nil
	}

	lastMtime, err := mtime()
	if err != nil {
		return nil, err
	}

	ch := make(chan *Config)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(w.updInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m, err := mtime()
				if err != nil {
					log.Printf("[WARN] %v", err)
					continue
				}
				if m.Equal(lastMtime) || time.Since(m) < w.updInterval/2 {
					continue
				}
				lastMtime = m
				cfg, err := Load(w.file)
				if err != nil {
					log.Printf("[WARN] %v", err)
					continue
				}
				select {
				case ch <- cfg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
