package console

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/qman/app/enums"
	"github.com/umputun/qman/app/jobdata"
	"github.com/umputun/qman/app/jobform"
	"github.com/umputun/qman/app/scheduler"
	"github.com/umputun/qman/app/scheduler/schedulertest"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestController_InitialLoad(t *testing.T) {
	srv := newScheduler(t)
	var changes atomic.Int32
	c := startController(t, scheduler.New(scheduler.Params{BaseURL: srv.URL}),
		Config{PollInterval: time.Hour, OnChange: func(State) { changes.Add(1) }})

	require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 3 }, waitFor, tick)
	st := c.Snapshot()
	assert.Equal(t, enums.ViewDashboard, st.View)
	assert.Equal(t, enums.FormModeNone, st.Mode)
	assert.Nil(t, st.Job)
	assert.False(t, st.Loading)
	assert.Empty(t, st.ListError)
	assert.False(t, st.UpdatedAt.IsZero())
	assert.Equal(t, Stats{Total: 3, Active: 2, Paused: 1}, st.Stats())
	assert.Positive(t, changes.Load())
}

func TestController_Transitions(t *testing.T) {
	srv := newScheduler(t)
	c := startController(t, scheduler.New(scheduler.Params{BaseURL: srv.URL}), Config{PollInterval: time.Hour})
	ctx := t.Context()
	require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 3 }, waitFor, tick)

	t.Run("back from dashboard is invalid", func(t *testing.T) {
		epoch := c.Snapshot().Epoch
		err := c.Back(ctx)
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, epoch, c.Snapshot().Epoch, "state untouched")
	})

	t.Run("create job", func(t *testing.T) {
		require.NoError(t, c.CreateJob(ctx))
		st := c.Snapshot()
		assert.Equal(t, enums.ViewForm, st.View)
		assert.Equal(t, enums.FormModeCreate, st.Mode)
		assert.Equal(t, jobform.New(), st.Form)
		require.Eventually(t, func() bool { return len(c.Snapshot().Groups) > 0 }, waitFor, tick)
		assert.Equal(t, []string{"DEFAULT", "ops"}, c.Snapshot().Groups)

		require.ErrorIs(t, c.CreateJob(ctx), ErrInvalidTransition)
		require.ErrorIs(t, c.ViewJob(ctx, "ops/backup"), ErrInvalidTransition)
		require.ErrorIs(t, c.DeleteJob(ctx, "ops/backup"), ErrInvalidTransition)
		require.NoError(t, c.Back(ctx))
		assert.Equal(t, enums.ViewDashboard, c.Snapshot().View)
		assert.Equal(t, jobform.Form{}, c.Snapshot().Form, "form discarded")
	})

	t.Run("edit job", func(t *testing.T) {
		require.NoError(t, c.EditJob(ctx, "ops/backup"))
		st := c.Snapshot()
		assert.Equal(t, enums.ViewForm, st.View)
		assert.Equal(t, enums.FormModeEdit, st.Mode)
		require.NotNil(t, st.Job)
		assert.Equal(t, "ops/backup", st.Job.Key())
		assert.Equal(t, "backup", st.Form.JobName)
		assert.Equal(t, "POST", st.Form.Method)
		assert.Equal(t, []jobdata.Property{{Key: "header.X-Token", Value: "secret"}}, st.Form.Props)

		require.ErrorIs(t, c.SetField(ctx, "name", "other"), ErrInvalidTransition)
		require.ErrorIs(t, c.SetField(ctx, "group", "other"), ErrInvalidTransition)
		require.NoError(t, c.SetField(ctx, "desc", "changed"))
		assert.Equal(t, "changed", c.Snapshot().Form.Description)
		assert.Equal(t, "backup", c.Snapshot().Form.JobName)
		require.NoError(t, c.Back(ctx))
	})

	t.Run("details and history", func(t *testing.T) {
		require.NoError(t, c.ViewJob(ctx, "DEFAULT/ping"))
		assert.Equal(t, enums.ViewDetails, c.Snapshot().View)
		require.Eventually(t, func() bool { return len(c.Snapshot().History) == 2 }, waitFor, tick)
		assert.False(t, c.Snapshot().HistoryLoading)
		require.ErrorIs(t, c.ViewHistory(ctx, "DEFAULT/ping"), ErrInvalidTransition)
		require.NoError(t, c.Back(ctx))
		assert.Nil(t, c.Snapshot().Job)
		assert.Nil(t, c.Snapshot().History)

		require.NoError(t, c.ViewHistory(ctx, "DEFAULT/ping"))
		assert.Equal(t, enums.ViewHistory, c.Snapshot().View)
		require.Eventually(t, func() bool { return len(c.Snapshot().History) == 2 }, waitFor, tick)
		require.NoError(t, c.Back(ctx))
	})

	t.Run("unknown job", func(t *testing.T) {
		require.ErrorIs(t, c.ViewJob(ctx, "DEFAULT/nope"), scheduler.ErrJobNotFound)
		assert.Equal(t, enums.ViewDashboard, c.Snapshot().View)
	})

	t.Run("form actions outside of form", func(t *testing.T) {
		require.ErrorIs(t, c.SetField(ctx, "url", "x"), ErrInvalidTransition)
		require.ErrorIs(t, c.SetProp(ctx, "a", "b"), ErrInvalidTransition)
		require.ErrorIs(t, c.RemoveProp(ctx, "a"), ErrInvalidTransition)
		require.ErrorIs(t, c.Save(ctx), ErrInvalidTransition)
	})
}

func TestController_PollCanceledOnLeave(t *testing.T) {
	fc := &fakeClient{jobs: []scheduler.TriggerInfo{{JobGroup: "DEFAULT", JobName: "ping"}}}
	release := make(chan struct{})
	var canceled atomic.Bool
	fc.onList = func(ctx context.Context, n int) []scheduler.TriggerInfo {
		if n != 2 {
			return nil
		}
		// second call is the first poll, keep it in flight until the view is left
		select {
		case <-ctx.Done():
			canceled.Store(true)
		case <-release:
		}
		return []scheduler.TriggerInfo{{JobGroup: "DEFAULT", JobName: "stale"}}
	}

	c := startController(t, fc, Config{PollInterval: 20 * time.Millisecond})
	ctx := t.Context()
	require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return fc.listCalls() >= 2 }, waitFor, tick)

	require.NoError(t, c.ViewJob(ctx, "DEFAULT/ping"))
	require.Eventually(t, canceled.Load, waitFor, tick)
	require.Eventually(t, func() bool { return c.Dropped() >= 1 }, waitFor, tick)
	close(release)

	st := c.Snapshot()
	assert.Equal(t, enums.ViewDetails, st.View)
	assert.Equal(t, "DEFAULT/ping", st.Jobs[0].Key(), "stale response not applied")

	calls := fc.listCalls()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, fc.listCalls(), "no polling outside of dashboard")

	require.NoError(t, c.Back(ctx))
	require.Eventually(t, func() bool { return fc.listCalls() > calls+1 }, waitFor, tick, "polling resumed")
}

func TestController_OutOfOrderResponses(t *testing.T) {
	fc := &fakeClient{jobs: []scheduler.TriggerInfo{{JobGroup: "DEFAULT", JobName: "v1"}}}
	release := make(chan struct{})
	fc.onList = func(_ context.Context, n int) []scheduler.TriggerInfo {
		switch n {
		case 2:
			<-release
			return []scheduler.TriggerInfo{{JobGroup: "DEFAULT", JobName: "v2"}}
		case 3:
			return []scheduler.TriggerInfo{{JobGroup: "DEFAULT", JobName: "v3"}}
		}
		return nil
	}

	c := startController(t, fc, Config{PollInterval: time.Hour})
	ctx := t.Context()
	require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 1 }, waitFor, tick)

	require.NoError(t, c.Refresh(ctx))
	require.Eventually(t, func() bool { return fc.listCalls() == 2 }, waitFor, tick)
	require.NoError(t, c.Refresh(ctx))
	require.Eventually(t, func() bool { return c.Snapshot().Jobs[0].JobName == "v3" }, waitFor, tick)

	close(release)
	require.Eventually(t, func() bool { return c.Dropped() == 1 }, waitFor, tick)
	assert.Equal(t, "v3", c.Snapshot().Jobs[0].JobName)
}

func TestController_ListErrorKeepsJobs(t *testing.T) {
	fc := &fakeClient{jobs: []scheduler.TriggerInfo{{JobGroup: "DEFAULT", JobName: "ping"}}}
	c := startController(t, fc, Config{PollInterval: time.Hour})
	ctx := t.Context()
	require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 1 }, waitFor, tick)

	fc.setListErr(&scheduler.TransportError{Op: "list jobs", Status: http.StatusBadGateway})
	require.NoError(t, c.Refresh(ctx))
	require.Eventually(t, func() bool { return c.Snapshot().ListError != "" }, waitFor, tick)
	assert.Equal(t, "list jobs: unexpected status 502", c.Snapshot().ListError)
	assert.Len(t, c.Snapshot().Jobs, 1)

	fc.setListErr(nil)
	require.NoError(t, c.Refresh(ctx))
	require.Eventually(t, func() bool { return c.Snapshot().ListError == "" }, waitFor, tick)
}

func TestController_Save(t *testing.T) {
	srv := newScheduler(t)
	c := startController(t, scheduler.New(scheduler.Params{BaseURL: srv.URL}), Config{PollInterval: time.Hour})
	ctx := t.Context()
	require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 3 }, waitFor, tick)

	t.Run("local validation", func(t *testing.T) {
		require.NoError(t, c.CreateJob(ctx))
		err := c.Save(ctx)
		var fe jobform.FieldErrors
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, fe, c.Snapshot().FormErrors)
		assert.Equal(t, "is required", fe.Field("jobName"))
		assert.False(t, c.Snapshot().Submitting)

		require.NoError(t, c.SetProp(ctx, "method", "PUT"))
		require.ErrorAs(t, c.Save(ctx), &fe)
		assert.Contains(t, fe.Field("props"), "reserved")
		require.NoError(t, c.RemoveProp(ctx, "method"))
		require.Error(t, c.RemoveProp(ctx, "method"))
		require.NoError(t, c.Back(ctx))
	})

	t.Run("rejected by scheduler", func(t *testing.T) {
		srv.Reject("Error scheduling job: CronExpression 'bad' is invalid.")
		defer srv.Reject("")
		require.NoError(t, c.CreateJob(ctx))
		fillForm(t, c, "newjob", "bad")
		require.NoError(t, c.Save(ctx))
		require.Eventually(t, func() bool { return c.Snapshot().FormError != "" }, waitFor, tick)
		st := c.Snapshot()
		assert.Equal(t, "Error scheduling job: CronExpression 'bad' is invalid.", st.FormError)
		assert.Equal(t, enums.ViewForm, st.View)
		assert.False(t, st.Submitting)
		assert.Equal(t, "newjob", st.Form.JobName, "form stays editable")
		require.NoError(t, c.Back(ctx))
	})

	t.Run("create round-trip", func(t *testing.T) {
		require.NoError(t, c.CreateJob(ctx))
		fillForm(t, c, "newjob", "0 0/5 * * * ?")
		require.NoError(t, c.SetProp(ctx, "X-Key", "v1"))
		require.NoError(t, c.Save(ctx))
		require.Eventually(t, func() bool { return c.Snapshot().View == enums.ViewDashboard }, waitFor, tick)
		require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 4 }, waitFor, tick, "refreshed after save")

		job, ok := srv.Job("DEFAULT", "newjob")
		require.True(t, ok)
		f := jobdata.Decode(job.JobDataMap)
		assert.Equal(t, jobdata.Fields{Method: "GET", URL: "http://example.com/hook",
			Props: []jobdata.Property{{Key: "X-Key", Value: "v1"}}}, f)
	})

	t.Run("edit keeps identity", func(t *testing.T) {
		require.NoError(t, c.EditJob(ctx, "DEFAULT/newjob"))
		require.NoError(t, c.SetField(ctx, "cron", "0 0 * * * ?"))
		require.NoError(t, c.Save(ctx))
		require.Eventually(t, func() bool { return c.Snapshot().View == enums.ViewDashboard }, waitFor, tick)
		job, ok := srv.Job("DEFAULT", "newjob")
		require.True(t, ok)
		assert.Equal(t, "0 0 * * * ?", job.CronExpression)
	})
}

func TestController_Delete(t *testing.T) {
	srv := newScheduler(t)
	c := startController(t, scheduler.New(scheduler.Params{BaseURL: srv.URL}), Config{PollInterval: time.Hour})
	ctx := t.Context()
	require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 3 }, waitFor, tick)

	t.Run("failure raises alert", func(t *testing.T) {
		srv.Fail("DELETE /api/jobs/{group}/{name}", http.StatusInternalServerError)
		defer srv.Fail("DELETE /api/jobs/{group}/{name}", 0)
		require.NoError(t, c.DeleteJob(ctx, "DEFAULT/ping"))
		require.Eventually(t, func() bool { return c.Snapshot().Alert != "" }, waitFor, tick)
		assert.Contains(t, c.Snapshot().Alert, "DEFAULT/ping")
		assert.Len(t, c.Snapshot().Jobs, 3)

		require.NoError(t, c.DismissAlert(ctx))
		assert.Empty(t, c.Snapshot().Alert)
	})

	t.Run("alert blocks other actions", func(t *testing.T) {
		srv.Fail("DELETE /api/jobs/{group}/{name}", http.StatusInternalServerError)
		defer srv.Fail("DELETE /api/jobs/{group}/{name}", 0)
		require.NoError(t, c.DeleteJob(ctx, "DEFAULT/ping"))
		require.Eventually(t, func() bool { return c.Snapshot().Alert != "" }, waitFor, tick)

		require.ErrorIs(t, c.ViewJob(ctx, "DEFAULT/ping"), ErrAlertPending)
		require.ErrorIs(t, c.ViewHistory(ctx, "DEFAULT/ping"), ErrAlertPending)
		require.ErrorIs(t, c.EditJob(ctx, "DEFAULT/ping"), ErrAlertPending)
		require.ErrorIs(t, c.CreateJob(ctx), ErrAlertPending)
		require.ErrorIs(t, c.Search(ctx, "ops"), ErrAlertPending)
		require.ErrorIs(t, c.Refresh(ctx), ErrAlertPending)
		require.ErrorIs(t, c.DeleteJob(ctx, "DEFAULT/ping"), ErrAlertPending)
		st := c.Snapshot()
		assert.Equal(t, enums.ViewDashboard, st.View)
		assert.Empty(t, st.Search)

		require.NoError(t, c.DismissAlert(ctx))
		require.NoError(t, c.ViewJob(ctx, "DEFAULT/ping"))
		assert.Equal(t, enums.ViewDetails, c.Snapshot().View)
		require.NoError(t, c.Back(ctx))
	})

	t.Run("success refreshes", func(t *testing.T) {
		require.NoError(t, c.DeleteJob(ctx, "DEFAULT/ping"))
		require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 2 }, waitFor, tick)
		for _, j := range c.Snapshot().Jobs {
			assert.NotEqual(t, "DEFAULT/ping", j.Key())
		}
		_, ok := srv.Job("DEFAULT", "ping")
		assert.False(t, ok)
	})

	t.Run("unknown job", func(t *testing.T) {
		require.ErrorIs(t, c.DeleteJob(ctx, "DEFAULT/ping"), scheduler.ErrJobNotFound)
	})
}

func TestController_Search(t *testing.T) {
	srv := newScheduler(t)
	c := startController(t, scheduler.New(scheduler.Params{BaseURL: srv.URL}), Config{PollInterval: time.Hour})
	ctx := t.Context()
	require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 3 }, waitFor, tick)

	require.NoError(t, c.Search(ctx, "OPS"))
	st := c.Snapshot()
	assert.Equal(t, "OPS", st.Search)
	require.Len(t, st.Filtered(), 1)
	assert.Equal(t, "ops/backup", st.Filtered()[0].Key())
	assert.Equal(t, 3, st.Stats().Total)

	require.NoError(t, c.Search(ctx, ""))
	assert.Len(t, c.Snapshot().Filtered(), 3)
}

func TestController_FreshEdit(t *testing.T) {
	srv := newScheduler(t)
	c := startController(t, scheduler.New(scheduler.Params{BaseURL: srv.URL}), Config{PollInterval: time.Hour, FreshEdit: true})
	ctx := t.Context()
	require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 3 }, waitFor, tick)

	job, ok := srv.Job("DEFAULT", "ping")
	require.True(t, ok)
	job.Description = "changed elsewhere"
	srv.AddJob(job)

	require.NoError(t, c.EditJob(ctx, "DEFAULT/ping"))
	assert.Equal(t, "changed elsewhere", c.Snapshot().Form.Description)
	require.NoError(t, c.Back(ctx))

	require.NoError(t, scheduler.New(scheduler.Params{BaseURL: srv.URL}).DeleteJob(ctx, "ops", "backup"))
	err := c.EditJob(ctx, "ops/backup")
	require.ErrorIs(t, err, scheduler.ErrJobNotFound)
	assert.Equal(t, enums.ViewDashboard, c.Snapshot().View)
}

func TestController_HistoryRecorded(t *testing.T) {
	srv := newScheduler(t)
	rec := &fakeRecorder{}
	c := startController(t, scheduler.New(scheduler.Params{BaseURL: srv.URL}), Config{PollInterval: time.Hour, Recorder: rec})
	ctx := t.Context()
	require.Eventually(t, func() bool { return len(c.Snapshot().Jobs) == 3 }, waitFor, tick)

	require.NoError(t, c.ViewJob(ctx, "DEFAULT/ping"))
	require.Eventually(t, func() bool { return len(c.Snapshot().History) == 2 }, waitFor, tick)
	assert.Empty(t, rec.keys(), "details view doesn't record")
	require.NoError(t, c.Back(ctx))

	require.NoError(t, c.ViewHistory(ctx, "DEFAULT/ping"))
	require.Eventually(t, func() bool { return len(c.Snapshot().History) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"DEFAULT/ping"}, rec.keys())
}

func TestController_Stopped(t *testing.T) {
	c := New(&fakeClient{}, Config{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()
	require.NoError(t, c.Search(context.Background(), "x"))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.ErrorIs(t, c.Back(context.Background()), ErrStopped)
	assert.Error(t, c.Run(context.Background()), "can't run twice")
	assert.Equal(t, "x", c.Snapshot().Search)
}

func startController(t *testing.T, client Client, cfg Config) *Controller {
	t.Helper()
	c := New(client, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

// newScheduler makes a fake scheduler with three jobs, one of them paused
func newScheduler(t *testing.T) *schedulertest.Server {
	t.Helper()
	srv := schedulertest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddJob(scheduler.TriggerInfo{JobGroup: "DEFAULT", JobName: "ping", CronExpression: "0 * * * * ?", State: "NORMAL",
		JobDataMap: jobdata.DataMap{"method": "GET", "url": "http://example.com"}})
	srv.AddJob(scheduler.TriggerInfo{JobGroup: "DEFAULT", JobName: "report", CronExpression: "0 0 1 * * ?", State: "PAUSED",
		JobDataMap: jobdata.DataMap{"method": "GET", "url": "http://example.com/report"}})
	srv.AddJob(scheduler.TriggerInfo{JobGroup: "ops", JobName: "backup", CronExpression: "0 0 3 * * ?", State: "NORMAL",
		JobDataMap: jobdata.DataMap{"method": "POST", "url": "http://example.com/backup", "header.X-Token": "secret"}})
	srv.SetHistory("DEFAULT", "ping", []scheduler.ExecutionLog{
		{ID: "2", Status: scheduler.StatusFailure, FireTime: "2026-01-02T10:01:00", Message: "timeout"},
		{ID: "1", Status: scheduler.StatusSuccess, FireTime: "2026-01-02T10:00:00", Duration: 12},
	})
	return srv
}

func fillForm(t *testing.T, c *Controller, name, cron string) {
	t.Helper()
	ctx := t.Context()
	require.NoError(t, c.SetField(ctx, "name", name))
	require.NoError(t, c.SetField(ctx, "cron", cron))
	require.NoError(t, c.SetField(ctx, "url", "http://example.com/hook"))
}

type fakeClient struct {
	mu      sync.Mutex
	jobs    []scheduler.TriggerInfo
	listErr error
	calls   int
	onList  func(ctx context.Context, n int) []scheduler.TriggerInfo // optional, non-nil result replaces jobs
}

func (f *fakeClient) ListJobs(ctx context.Context) ([]scheduler.TriggerInfo, error) {
	f.mu.Lock()
	f.calls++
	n, jobs, err, hook := f.calls, f.jobs, f.listErr, f.onList
	f.mu.Unlock()
	if hook != nil {
		if res := hook(ctx, n); res != nil {
			jobs = res
		}
	}
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (f *fakeClient) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeClient) ListGroups(context.Context) []string { return []string{scheduler.DefaultGroup} }

func (f *fakeClient) SaveJob(context.Context, scheduler.JobRequest) error { return nil }

func (f *fakeClient) DeleteJob(context.Context, string, string) error { return nil }

func (f *fakeClient) FetchHistory(context.Context, string, string, int) []scheduler.ExecutionLog {
	return []scheduler.ExecutionLog{}
}

func (f *fakeClient) GetJob(_ context.Context, group, name string) (scheduler.TriggerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.JobGroup == group && j.JobName == name {
			return j, nil
		}
	}
	return scheduler.TriggerInfo{}, errors.New("not found")
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *fakeRecorder) Record(_ context.Context, group, name string, _ []scheduler.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, group+"/"+name)
	return nil
}

func (r *fakeRecorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.seen...)
}
