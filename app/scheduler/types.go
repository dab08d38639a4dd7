package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/umputun/qman/app/jobdata"
)

// DefaultGroup is the group every scheduler has, used when no group list is available
const DefaultGroup = "DEFAULT"

// StatePaused is the trigger state of paused jobs, the only state the console treats specially
const StatePaused = "PAUSED"

// execution time sentinels used by the scheduler in place of a timestamp
const (
	TimeNever     = "Never"
	TimeCompleted = "Completed"
)

// execution statuses known to the console, the set is open
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusVetoed  = "VETOED"
)

// timeLayout is the scheduler's format for last/next execution times
const timeLayout = "2006-01-02 15:04:05"

// TriggerInfo is the flattened job + trigger read model returned by the scheduler
type TriggerInfo struct {
	JobName           string          `json:"jobName"`
	JobGroup          string          `json:"jobGroup"`
	Description       string          `json:"description"`
	CronExpression    string          `json:"cronExpression"`
	JobDataMap        jobdata.DataMap `json:"jobDataMap"`
	TriggerName       string          `json:"triggerName"`
	TriggerGroup      string          `json:"triggerGroup"`
	State             string          `json:"state"`
	LastExecutionTime string          `json:"lastExecutionTime"`
	NextExecutionTime string          `json:"nextExecutionTime"`
}

// Key returns "group/name" identity of the job
func (t TriggerInfo) Key() string {
	return t.JobGroup + "/" + t.JobName
}

// Paused reports whether the trigger is paused
func (t TriggerInfo) Paused() bool {
	return t.State == StatePaused
}

// LastRun parses last execution time, false for sentinels and unparsable values
func (t TriggerInfo) LastRun() (time.Time, bool) {
	return ParseExecTime(t.LastExecutionTime)
}

// NextRun parses next execution time, false for sentinels and unparsable values
func (t TriggerInfo) NextRun() (time.Time, bool) {
	return ParseExecTime(t.NextExecutionTime)
}

// ParseExecTime parses scheduler's local timestamp. "Never", "Completed" and empty values are not times.
func ParseExecTime(s string) (time.Time, bool) {
	switch s {
	case "", TimeNever, TimeCompleted:
		return time.Time{}, false
	}
	for _, layout := range []string{timeLayout, "2006-01-02T15:04:05.999999999", time.RFC3339Nano} {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// JobRequest is the create-or-update payload. StartTime and EndTime are epoch milliseconds.
type JobRequest struct {
	JobName        string          `json:"jobName"`
	JobGroup       string          `json:"jobGroup"`
	Description    string          `json:"description"`
	CronExpression string          `json:"cronExpression"`
	JobDataMap     jobdata.DataMap `json:"jobDataMap"`
	StartTime      *int64          `json:"startTime,omitempty"`
	EndTime        *int64          `json:"endTime,omitempty"`
}

// ExecutionLog is one historical firing record of a job
type ExecutionLog struct {
	ID           LogID  `json:"id"`
	JobName      string `json:"jobName,omitempty"`
	JobGroup     string `json:"jobGroup,omitempty"`
	TriggerName  string `json:"triggerName,omitempty"`
	TriggerGroup string `json:"triggerGroup,omitempty"`
	Status       string `json:"status"`
	FireTime     string `json:"fireTime"`
	EndTime      string `json:"endTime,omitempty"`
	Duration     int64  `json:"duration"`
	Message      string `json:"message,omitempty"`
}

// Failed reports whether the execution ended with failure status
func (e ExecutionLog) Failed() bool {
	return e.Status == StatusFailure
}

// Fired parses fire time, false if missing or unparsable
func (e ExecutionLog) Fired() (time.Time, bool) {
	return ParseExecTime(e.FireTime)
}

// LogID is an opaque execution id, the scheduler sends it as a number, other services may use strings
type LogID string

// UnmarshalJSON accepts both JSON numbers and strings
func (l *LogID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*l = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("invalid log id %s: %w", trimmed, err)
		}
		*l = LogID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("invalid log id %s: %w", trimmed, err)
	}
	*l = LogID(n.String())
	return nil
}
