// Package archive accumulates execution history of scheduler jobs in a local store. The scheduler
// keeps only the most recent executions per job, the archiver sweeps all jobs periodically,
// stores new executions, alerts on new failures and removes executions older than retention period.
// Both sweep and cleanup run on a local cron schedule.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/robfig/cron/v3"

	"github.com/umputun/qman/app/scheduler"
)

// default schedules, with seconds field
const (
	DefaultSweepSchedule   = "0 */10 * * * *"
	DefaultCleanupSchedule = "0 0 0 * * *"
)

// DefaultRetention is how long archived executions are kept
const DefaultRetention = 10 * 24 * time.Hour

// Store keeps executions
type Store interface {
	SaveExecutions(ctx context.Context, group, name string, logs []scheduler.ExecutionLog) ([]scheduler.ExecutionLog, error)
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Source provides jobs and their recent history
type Source interface {
	ListJobs(ctx context.Context) ([]scheduler.TriggerInfo, error)
	FetchHistory(ctx context.Context, group, name string, limit int) []scheduler.ExecutionLog
}

// Alerter is notified about new failed executions
type Alerter interface {
	Failed(ctx context.Context, e scheduler.ExecutionLog) error
}

// Archiver sweeps job history into the store
type Archiver struct {
	store           Store
	source          Source
	alerter         Alerter
	retention       time.Duration
	sweepSchedule   string
	cleanupSchedule string
	concurrency     int
	alertTimeout    time.Duration
	since           time.Time // failures fired before are archived without alert
	now             func() time.Time

	sweeping atomic.Bool
}

// Params for the archiver
type Params struct {
	Store           Store
	Source          Source  // optional, without it only Record and Cleanup work
	Alerter         Alerter // optional
	Retention       time.Duration
	SweepSchedule   string // cron spec with seconds, empty disables periodic sweep
	CleanupSchedule string // cron spec with seconds, DefaultCleanupSchedule if empty
	Concurrency     int
	AlertTimeout    time.Duration
}

// New makes archiver. Alerts are sent only for failures fired after this call.
func New(p Params) *Archiver {
	res := &Archiver{
		store:           p.Store,
		source:          p.Source,
		alerter:         p.Alerter,
		retention:       p.Retention,
		sweepSchedule:   p.SweepSchedule,
		cleanupSchedule: p.CleanupSchedule,
		concurrency:     p.Concurrency,
		alertTimeout:    p.AlertTimeout,
		now:             time.Now,
	}
	if res.retention <= 0 {
		res.retention = DefaultRetention
	}
	if res.cleanupSchedule == "" {
		res.cleanupSchedule = DefaultCleanupSchedule
	}
	if res.concurrency <= 0 {
		res.concurrency = 4
	}
	if res.alertTimeout <= 0 {
		res.alertTimeout = 10 * time.Second
	}
	res.since = res.now()
	return res
}

// Run schedules sweep and cleanup and blocks until ctx is canceled.
// Running jobs are waited for before return.
func (a *Archiver) Run(ctx context.Context) error {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(a.cleanupSchedule, func() {
		if _, err := a.Cleanup(ctx); err != nil {
			log.Printf("[WARN] archive cleanup failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("bad cleanup schedule %q: %w", a.cleanupSchedule, err)
	}

	if a.sweepSchedule != "" && a.source != nil {
		if _, err := c.AddFunc(a.sweepSchedule, func() {
			if err := a.Sweep(ctx); err != nil {
				log.Printf("[WARN] archive sweep failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("bad sweep schedule %q: %w", a.sweepSchedule, err)
		}
	}

	log.Printf("[INFO] archiver started, sweep %q, cleanup %q, retention %v", a.sweepSchedule, a.cleanupSchedule, a.retention)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Printf("[INFO] archiver stopped")
	return ctx.Err()
}

// Sweep fetches history of all jobs and archives it. Jobs are processed concurrently,
// history failures are skipped by the source, so only listing and store errors are reported.
func (a *Archiver) Sweep(ctx context.Context) error {
	if a.source == nil {
		return errors.New("no history source")
	}
	if !a.sweeping.CompareAndSwap(false, true) {
		log.Printf("[DEBUG] sweep already in progress")
		return nil
	}
	defer a.sweeping.Store(false)

	st := time.Now()
	jobs, err := a.source.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	var added atomic.Int64
	errs := make([]error, len(jobs))
	gr := syncs.NewSizedGroup(a.concurrency)
	for i, j := range jobs {
		gr.Go(func(context.Context) {
			logs := a.source.FetchHistory(ctx, j.JobGroup, j.JobName, 0)
			n, err := a.record(ctx, j.JobGroup, j.JobName, logs)
			if err != nil {
				errs[i] = err
				return
			}
			added.Add(int64(n))
		})
	}
	gr.Wait()

	log.Printf("[DEBUG] sweep of %d jobs done in %v, %d new executions", len(jobs), time.Since(st), added.Load())
	return errors.Join(errs...)
}

// Record archives executions of the job seen elsewhere, e.g. in the console history view
func (a *Archiver) Record(ctx context.Context, group, name string, logs []scheduler.ExecutionLog) error {
	_, err := a.record(ctx, group, name, logs)
	return err
}

// Cleanup removes executions older than retention period
func (a *Archiver) Cleanup(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.retention)
	n, err := a.store.CleanupOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	log.Printf("[INFO] removed %d archived executions older than %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}

func (a *Archiver) record(ctx context.Context, group, name string, logs []scheduler.ExecutionLog) (int, error) {
	if len(logs) == 0 {
		return 0, nil
	}
	added, err := a.store.SaveExecutions(ctx, group, name, logs)
	if err != nil {
		return 0, fmt.Errorf("failed to archive %s/%s: %w", group, name, err)
	}
	for _, e := range added {
		a.alert(ctx, e)
	}
	return len(added), nil
}

// alert sends notification for failed execution fired after the archiver started
func (a *Archiver) alert(ctx context.Context, e scheduler.ExecutionLog) {
	if a.alerter == nil || !e.Failed() {
		return
	}
	if fired, ok := e.Fired(); !ok || fired.Before(a.since) {
		return
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, a.alertTimeout)
	defer cancel()
	if err := a.alerter.Failed(ctxTimeout, e); err != nil {
		log.Printf("[WARN] failed to send alert for %s/%s execution %s: %v", e.JobGroup, e.JobName, e.ID, err)
		return
	}
	log.Printf("[INFO] alert sent for failed %s/%s execution %s", e.JobGroup, e.JobName, e.ID)
}
