// Package console implements the view state machine of the management console. A Controller owns
// the application state and mutates it from a single event loop. User actions and network results
// are both delivered to the loop, network calls run on goroutines bound to the current view instance.
// Results of a view that is no longer active, or older than already applied ones, are dropped.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/qman/app/enums"
	"github.com/umputun/qman/app/jobform"
	"github.com/umputun/qman/app/scheduler"
)

// DefaultPollInterval is the dashboard refresh period
const DefaultPollInterval = 5 * time.Second

// ErrInvalidTransition returned for actions not allowed in the current view
var ErrInvalidTransition = errors.New("invalid transition")

// ErrSubmitting returned on save while the previous save is in flight
var ErrSubmitting = errors.New("save in progress")

// ErrAlertPending returned for actions sent while an alert waits to be dismissed
var ErrAlertPending = errors.New("alert pending")

// ErrStopped returned for actions sent after the controller loop is done
var ErrStopped = errors.New("controller stopped")

// Client is the scheduler API used by the controller
type Client interface {
	ListJobs(ctx context.Context) ([]scheduler.TriggerInfo, error)
	ListGroups(ctx context.Context) []string
	SaveJob(ctx context.Context, req scheduler.JobRequest) error
	DeleteJob(ctx context.Context, group, name string) error
	FetchHistory(ctx context.Context, group, name string, limit int) []scheduler.ExecutionLog
	GetJob(ctx context.Context, group, name string) (scheduler.TriggerInfo, error)
}

// HistoryRecorder keeps execution logs seen in the history view
type HistoryRecorder interface {
	Record(ctx context.Context, group, name string, logs []scheduler.ExecutionLog) error
}

// Config for the controller
type Config struct {
	PollInterval time.Duration   // dashboard refresh period, DefaultPollInterval if 0
	HistoryLimit int             // passed to FetchHistory, 0 for client's default
	FreshEdit    bool            // re-fetch the job before opening edit form
	Recorder     HistoryRecorder // optional
	OnChange     func(State)     // optional, called from the event loop after each change
}

// Controller runs the console state machine
type Controller struct {
	client Client
	cfg    Config

	actions chan action
	done    chan struct{}
	started atomic.Bool

	snapshot atomic.Pointer[State]
	dropped  atomic.Int64

	// owned by the loop
	ctx         context.Context
	state       State
	epochCtx    context.Context
	epochCancel context.CancelFunc
	issued      map[dataKind]uint64
	applied     map[dataKind]uint64
}

type action struct {
	fn   func() error
	done chan error // nil for internal events
}

type dataKind int

const (
	kindJobs dataKind = iota
	kindGroups
	kindHistory
)

func (k dataKind) String() string {
	switch k {
	case kindJobs:
		return "jobs"
	case kindGroups:
		return "groups"
	case kindHistory:
		return "history"
	}
	return "unknown"
}

// loaded is a network result tagged with the view instance and sequence it was requested for
type loaded struct {
	epoch   uint64
	kind    dataKind
	seq     uint64
	jobs    []scheduler.TriggerInfo
	groups  []string
	history []scheduler.ExecutionLog
	err     error
}

// New makes a controller in dashboard view. Run should be called to start it.
func New(client Client, cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	res := &Controller{
		client:  client,
		cfg:     cfg,
		actions: make(chan action),
		done:    make(chan struct{}),
		state:   State{View: enums.ViewDashboard, Mode: enums.FormModeNone},
		issued:  map[dataKind]uint64{},
		applied: map[dataKind]uint64{},
	}
	res.publish()
	return res
}

// Run starts the event loop and blocks until ctx is canceled
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("controller already started")
	}
	defer close(c.done)
	log.Printf("[INFO] console controller started, poll every %v", c.cfg.PollInterval)

	c.ctx = ctx
	c.enter()
	c.publish()
	for {
		select {
		case <-ctx.Done():
			c.epochCancel()
			log.Printf("[INFO] console controller stopped, %d stale responses dropped", c.dropped.Load())
			return ctx.Err()
		case a := <-c.actions:
			err := a.fn()
			c.publish()
			if a.done != nil {
				a.done <- err
			}
		}
	}
}

// Snapshot returns the latest published state
func (c *Controller) Snapshot() State {
	return *c.snapshot.Load()
}

// Dropped returns number of responses discarded as stale
func (c *Controller) Dropped() int64 {
	return c.dropped.Load()
}

// CreateJob opens the form for a new job
func (c *Controller) CreateJob(ctx context.Context) error {
	return c.send(ctx, func() error {
		return c.navigate(enums.ViewForm, enums.FormModeCreate, nil)
	})
}

// EditJob opens the form for the job with "group/name" key. With FreshEdit the job is re-fetched
// from the scheduler first, if it can't be reached the listed snapshot is used.
func (c *Controller) EditJob(ctx context.Context, key string) error {
	var fresh *scheduler.TriggerInfo
	if c.cfg.FreshEdit {
		job, err := c.lookup(ctx, key)
		if err != nil {
			return err
		}
		switch latest, err := c.client.GetJob(ctx, job.JobGroup, job.JobName); {
		case errors.Is(err, scheduler.ErrJobNotFound):
			return fmt.Errorf("job %s is gone: %w", key, err)
		case err != nil:
			log.Printf("[WARN] can't refresh job %s before edit, using listed one: %v", key, err)
		default:
			fresh = &latest
		}
	}

	return c.send(ctx, func() error {
		job, err := c.find(key)
		if err != nil {
			return err
		}
		if fresh != nil {
			job = *fresh
		}
		return c.navigate(enums.ViewForm, enums.FormModeEdit, &job)
	})
}

// ViewJob opens details of the job with "group/name" key
func (c *Controller) ViewJob(ctx context.Context, key string) error {
	return c.send(ctx, func() error {
		job, err := c.find(key)
		if err != nil {
			return err
		}
		return c.navigate(enums.ViewDetails, enums.FormModeNone, &job)
	})
}

// ViewHistory opens execution history of the job with "group/name" key
func (c *Controller) ViewHistory(ctx context.Context, key string) error {
	return c.send(ctx, func() error {
		job, err := c.find(key)
		if err != nil {
			return err
		}
		return c.navigate(enums.ViewHistory, enums.FormModeNone, &job)
	})
}

// Back returns to the dashboard, unsaved form changes are discarded
func (c *Controller) Back(ctx context.Context) error {
	return c.send(ctx, func() error {
		return c.navigate(enums.ViewDashboard, enums.FormModeNone, nil)
	})
}

// Refresh reloads data of the current view
func (c *Controller) Refresh(ctx context.Context) error {
	return c.send(ctx, func() error {
		switch c.state.View {
		case enums.ViewDashboard:
			c.fetchJobs()
		case enums.ViewForm:
			c.fetchGroups()
		case enums.ViewDetails, enums.ViewHistory:
			c.fetchHistory()
		}
		return nil
	})
}

// Search sets the dashboard filter term
func (c *Controller) Search(ctx context.Context, term string) error {
	return c.send(ctx, func() error {
		c.search(term)
		return nil
	})
}

// DeleteJob deletes the job with "group/name" key, confirmation is up to the caller.
// The call is asynchronous, success refreshes the dashboard and failure raises an alert.
func (c *Controller) DeleteJob(ctx context.Context, key string) error {
	return c.send(ctx, func() error {
		if c.state.View != enums.ViewDashboard {
			return fmt.Errorf("delete from %s view: %w", c.state.View, ErrInvalidTransition)
		}
		job, err := c.find(key)
		if err != nil {
			return err
		}
		epoch := c.state.Epoch
		go func() {
			// not bound to the view, navigating away should not abort the delete
			err := c.client.DeleteJob(c.ctx, job.JobGroup, job.JobName)
			c.post(func() error {
				if err != nil {
					c.deleteFailed(job, err)
					return nil
				}
				if c.state.Epoch == epoch {
					c.fetchJobs()
				}
				return nil
			})
		}()
		return nil
	})
}

// DismissAlert clears the blocking alert, the only action accepted while it is shown
func (c *Controller) DismissAlert(ctx context.Context) error {
	return c.deliver(ctx, func() error {
		c.state.Alert = ""
		return nil
	})
}

// SetField changes a form field, see jobform.Form.Set for field names.
// Job name and group can't be changed in edit mode.
func (c *Controller) SetField(ctx context.Context, field, value string) error {
	return c.send(ctx, func() error {
		if err := c.requireForm(); err != nil {
			return err
		}
		form := c.state.Form.Clone()
		if err := form.Set(field, value); err != nil {
			return err
		}
		if c.state.Mode == enums.FormModeEdit && (form.JobName != c.state.Form.JobName || form.JobGroup != c.state.Form.JobGroup) {
			return fmt.Errorf("job name and group can't be changed: %w", ErrInvalidTransition)
		}
		c.state.Form = form
		return nil
	})
}

// SetProp adds or replaces an additional property of the form
func (c *Controller) SetProp(ctx context.Context, key, value string) error {
	return c.send(ctx, func() error {
		if err := c.requireForm(); err != nil {
			return err
		}
		form := c.state.Form.Clone()
		form.SetProp(key, value)
		c.state.Form = form
		return nil
	})
}

// RemoveProp deletes an additional property of the form
func (c *Controller) RemoveProp(ctx context.Context, key string) error {
	return c.send(ctx, func() error {
		if err := c.requireForm(); err != nil {
			return err
		}
		form := c.state.Form.Clone()
		if !form.RemoveProp(key) {
			return fmt.Errorf("no property %q", key)
		}
		c.state.Form = form
		return nil
	})
}

// Save validates the form and submits it. Local validation failure is returned as
// jobform.FieldErrors, the submission itself is asynchronous: success returns to the dashboard,
// a scheduler rejection is kept in State.FormError and the form stays open.
func (c *Controller) Save(ctx context.Context) error {
	return c.send(ctx, func() error {
		if err := c.requireForm(); err != nil {
			return err
		}
		if c.state.Submitting {
			return ErrSubmitting
		}
		if err := c.state.Form.Validate(c.state.Mode); err != nil {
			var fe jobform.FieldErrors
			if errors.As(err, &fe) {
				c.state.FormErrors = fe
			}
			return err
		}
		c.submitStarted()
		return nil
	})
}

// send delivers user action to the loop and waits for it to be applied.
// Actions are refused with ErrAlertPending until the alert is dismissed.
func (c *Controller) send(ctx context.Context, fn func() error) error {
	return c.deliver(ctx, func() error {
		if c.state.Alert != "" {
			return ErrAlertPending
		}
		return fn()
	})
}

// deliver passes the action to the loop as is and waits for its result
func (c *Controller) deliver(ctx context.Context, fn func() error) error {
	a := action{fn: fn, done: make(chan error, 1)}
	select {
	case c.actions <- a:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-a.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// publish stores a snapshot of the loop state and notifies the listener
func (c *Controller) publish() {
	s := c.state
	c.snapshot.Store(&s)
	if c.cfg.OnChange != nil && c.started.Load() {
		c.cfg.OnChange(s)
	}
}

// post delivers internal event to the loop, gives up if the loop is done
func (c *Controller) post(fn func() error) {
	select {
	case c.actions <- action{fn: fn}:
	case <-c.done:
	}
}

// lookup finds job by key in the published state, for use outside of the loop
func (c *Controller) lookup(ctx context.Context, key string) (scheduler.TriggerInfo, error) {
	if err := ctx.Err(); err != nil {
		return scheduler.TriggerInfo{}, err
	}
	for _, j := range c.Snapshot().Jobs {
		if j.Key() == key {
			return j, nil
		}
	}
	return scheduler.TriggerInfo{}, fmt.Errorf("job %s: %w", key, scheduler.ErrJobNotFound)
}

// find finds job by key in the loop state
func (c *Controller) find(key string) (scheduler.TriggerInfo, error) {
	for _, j := range c.state.Jobs {
		if j.Key() == key {
			return j, nil
		}
	}
	return scheduler.TriggerInfo{}, fmt.Errorf("job %s: %w", key, scheduler.ErrJobNotFound)
}

func (c *Controller) requireForm() error {
	if c.state.View != enums.ViewForm {
		return fmt.Errorf("form action in %s view: %w", c.state.View, ErrInvalidTransition)
	}
	return nil
}

// navigate switches view. Allowed are dashboard to any other view and any other view back to dashboard.
func (c *Controller) navigate(view enums.View, mode enums.FormMode, job *scheduler.TriggerInfo) error {
	from := c.state.View
	if (from == enums.ViewDashboard) == (view == enums.ViewDashboard) {
		return fmt.Errorf("%s to %s: %w", from, view, ErrInvalidTransition)
	}
	log.Printf("[DEBUG] navigate %s -> %s", from, view)

	c.state.View, c.state.Mode, c.state.Job = view, mode, job
	c.state.Form, c.state.Groups, c.state.FormErrors, c.state.FormError, c.state.Submitting = jobform.Form{}, nil, nil, "", false
	c.state.History, c.state.HistoryLoading = nil, false
	c.enter()
	return nil
}

// enter starts a new view instance. The previous instance's context is canceled,
// this stops its poll task and aborts its pending requests.
func (c *Controller) enter() {
	if c.epochCancel != nil {
		c.epochCancel()
	}
	c.epochCtx, c.epochCancel = context.WithCancel(c.ctx)
	c.state.Epoch++
	c.issued = map[dataKind]uint64{}
	c.applied = map[dataKind]uint64{}
	c.state.Loading = false

	switch c.state.View {
	case enums.ViewDashboard:
		c.fetchJobs()
		go c.poll(c.epochCtx, c.state.Epoch)
	case enums.ViewForm:
		if c.state.Mode == enums.FormModeEdit && c.state.Job != nil {
			c.state.Form = jobform.FromTrigger(*c.state.Job)
		} else {
			c.state.Form = jobform.New()
		}
		c.fetchGroups()
	case enums.ViewDetails, enums.ViewHistory:
		c.fetchHistory()
	}
}

// poll refreshes the job list periodically until the dashboard instance is left
func (c *Controller) poll(ctx context.Context, epoch uint64) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[DEBUG] poll for view instance %d stopped", epoch)
			return
		case <-ticker.C:
			c.post(func() error {
				if c.state.Epoch == epoch {
					c.fetchJobs()
				}
				return nil
			})
		}
	}
}

func (c *Controller) nextSeq(kind dataKind) uint64 {
	c.issued[kind]++
	return c.issued[kind]
}

func (c *Controller) fetchJobs() {
	ctx, epoch, seq := c.epochCtx, c.state.Epoch, c.nextSeq(kindJobs)
	c.state.Loading = true
	go func() {
		jobs, err := c.client.ListJobs(ctx)
		c.post(func() error {
			c.dataLoaded(loaded{epoch: epoch, kind: kindJobs, seq: seq, jobs: jobs, err: err})
			return nil
		})
	}()
}

func (c *Controller) fetchGroups() {
	ctx, epoch, seq := c.epochCtx, c.state.Epoch, c.nextSeq(kindGroups)
	go func() {
		groups := c.client.ListGroups(ctx)
		c.post(func() error {
			c.dataLoaded(loaded{epoch: epoch, kind: kindGroups, seq: seq, groups: groups})
			return nil
		})
	}()
}

func (c *Controller) fetchHistory() {
	if c.state.Job == nil {
		return
	}
	ctx, epoch, seq := c.epochCtx, c.state.Epoch, c.nextSeq(kindHistory)
	job, record := *c.state.Job, c.state.View == enums.ViewHistory && c.cfg.Recorder != nil
	c.state.HistoryLoading = true
	go func() {
		logs := c.client.FetchHistory(ctx, job.JobGroup, job.JobName, c.cfg.HistoryLimit)
		if record && len(logs) > 0 {
			if err := c.cfg.Recorder.Record(ctx, job.JobGroup, job.JobName, logs); err != nil {
				log.Printf("[WARN] failed to record history of %s: %v", job.Key(), err)
			}
		}
		c.post(func() error {
			c.dataLoaded(loaded{epoch: epoch, kind: kindHistory, seq: seq, history: logs})
			return nil
		})
	}()
}

// dataLoaded applies a network result unless it is stale
func (c *Controller) dataLoaded(r loaded) {
	if r.epoch != c.state.Epoch || r.seq <= c.applied[r.kind] {
		c.dropped.Add(1)
		log.Printf("[DEBUG] dropped stale %s response, epoch %d seq %d", r.kind, r.epoch, r.seq)
		return
	}
	c.applied[r.kind] = r.seq

	switch r.kind {
	case kindJobs:
		c.state.Loading = c.applied[kindJobs] < c.issued[kindJobs]
		if r.err != nil {
			log.Printf("[WARN] failed to load jobs: %v", r.err)
			c.state.ListError = r.err.Error()
			return
		}
		c.state.Jobs, c.state.ListError, c.state.UpdatedAt = r.jobs, "", time.Now()
	case kindGroups:
		c.state.Groups = r.groups
	case kindHistory:
		c.state.HistoryLoading = c.applied[kindHistory] < c.issued[kindHistory]
		c.state.History = r.history
	}
}

func (c *Controller) search(term string) {
	c.state.Search = term
}

func (c *Controller) submitStarted() {
	c.state.Submitting, c.state.FormErrors, c.state.FormError = true, nil, ""
	ctx, epoch, req := c.epochCtx, c.state.Epoch, c.state.Form.Request()
	go func() {
		err := c.client.SaveJob(ctx, req)
		c.post(func() error {
			if c.state.Epoch != epoch {
				c.dropped.Add(1)
				return nil
			}
			if err != nil {
				c.submitFailed(err)
				return nil
			}
			c.submitSucceeded()
			return nil
		})
	}()
}

func (c *Controller) submitFailed(err error) {
	log.Printf("[WARN] failed to save job: %v", err)
	c.state.Submitting = false
	var ve *scheduler.ValidationError
	if errors.As(err, &ve) {
		c.state.FormError = ve.Message
		return
	}
	c.state.FormError = err.Error()
}

// submitSucceeded leaves the form, entering the dashboard forces a refresh
func (c *Controller) submitSucceeded() {
	if err := c.navigate(enums.ViewDashboard, enums.FormModeNone, nil); err != nil {
		log.Printf("[WARN] can't leave form after save: %v", err)
	}
}

func (c *Controller) deleteFailed(job scheduler.TriggerInfo, err error) {
	log.Printf("[WARN] failed to delete job %s: %v", job.Key(), err)
	c.state.Alert = fmt.Sprintf("failed to delete job %s: %v", job.Key(), err)
}
