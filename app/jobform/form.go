// Package jobform holds the editable job form, validates it locally and turns it into
// a scheduler request. Validation covers only required fields, the method set and reserved
// property keys, cron expressions are checked by the scheduler itself.
package jobform

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/umputun/qman/app/enums"
	"github.com/umputun/qman/app/jobdata"
	"github.com/umputun/qman/app/scheduler"
)

// TimeLayout is the format of start and end times entered in the form
const TimeLayout = "2006-01-02 15:04:05"

// DefaultCron is the schedule of a new job, every 5 minutes
const DefaultCron = "0 0/5 * * * ?"

// CronPreset is a named shortcut for a common schedule
type CronPreset struct {
	Alias string
	Cron  string
	Title string
}

// CronPresets accepted by Set for the cron field
var CronPresets = []CronPreset{
	{Alias: "@minute", Cron: "0 * * * * ?", Title: "every minute"},
	{Alias: "@5m", Cron: "0 0/5 * * * ?", Title: "every 5 minutes"},
	{Alias: "@hourly", Cron: "0 0 * * * ?", Title: "every hour"},
	{Alias: "@midnight", Cron: "0 0 0 * * ?", Title: "every day at midnight"},
	{Alias: "@weekdays9", Cron: "0 0 9 ? * MON-FRI", Title: "every weekday at 9 AM"},
	{Alias: "@monday9", Cron: "0 0 9 ? * MON", Title: "every Monday at 9 AM"},
}

// Form is the editable representation of a job
type Form struct {
	JobName        string
	JobGroup       string
	Description    string
	CronExpression string
	Method         string
	URL            string
	Body           string
	Props          []jobdata.Property
	StartTime      time.Time // zero means not set
	EndTime        time.Time // zero means not set
}

// FieldError is a validation failure of a single form field
type FieldError struct {
	Field   string
	Message string
}

// FieldErrors is a list of field failures, in form order
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, fe := range e {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return strings.Join(msgs, "; ")
}

// Field returns the message for the given field, empty if the field is fine
func (e FieldErrors) Field(name string) string {
	for _, fe := range e {
		if fe.Field == name {
			return fe.Message
		}
	}
	return ""
}

// New makes an empty form for a new job
func New() Form {
	return Form{JobGroup: scheduler.DefaultGroup, CronExpression: DefaultCron, Method: jobdata.DefaultMethod,
		Props: []jobdata.Property{}}
}

// FromTrigger makes a form pre-filled from the existing job
func FromTrigger(t scheduler.TriggerInfo) Form {
	f := jobdata.Decode(t.JobDataMap)
	return Form{
		JobName:        t.JobName,
		JobGroup:       t.JobGroup,
		Description:    t.Description,
		CronExpression: t.CronExpression,
		Method:         f.Method,
		URL:            f.URL,
		Body:           f.Body,
		Props:          f.Props,
	}
}

// Validate checks the form for the given mode and returns FieldErrors or nil.
// Job name is checked on create only, in edit mode it comes from the existing job.
func (f Form) Validate(mode enums.FormMode) error {
	var errs FieldErrors
	required := func(field, val string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, FieldError{Field: field, Message: "is required"})
		}
	}

	if mode == enums.FormModeCreate {
		required("jobName", f.JobName)
	}
	required("jobGroup", f.JobGroup)
	required("cronExpression", f.CronExpression)
	if _, err := enums.ParseMethod(f.Method); err != nil {
		errs = append(errs, FieldError{Field: "method",
			Message: fmt.Sprintf("must be one of %s", strings.Join(enums.MethodNames(), ", "))})
	}
	required("url", f.URL)

	for _, p := range f.Props {
		if key := strings.TrimSpace(p.Key); jobdata.IsReserved(key) {
			errs = append(errs, FieldError{Field: "props", Message: fmt.Sprintf("key %q is reserved", key)})
		}
	}
	if !f.StartTime.IsZero() && !f.EndTime.IsZero() && !f.EndTime.After(f.StartTime) {
		errs = append(errs, FieldError{Field: "endTime", Message: "must be after start time"})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// BodyEnabled reports whether the method carries a request body
func (f Form) BodyEnabled() bool {
	return f.Method == enums.MethodPOST.String() || f.Method == enums.MethodPUT.String()
}

// Request makes the scheduler payload. Text fields are trimmed, the body is sent as is.
func (f Form) Request() scheduler.JobRequest {
	res := scheduler.JobRequest{
		JobName:        strings.TrimSpace(f.JobName),
		JobGroup:       strings.TrimSpace(f.JobGroup),
		Description:    f.Description,
		CronExpression: strings.TrimSpace(f.CronExpression),
		JobDataMap: jobdata.Encode(jobdata.Fields{
			Method: f.Method,
			URL:    strings.TrimSpace(f.URL),
			Body:   f.Body,
			Props:  f.Props,
		}),
	}
	if !f.StartTime.IsZero() {
		ms := f.StartTime.UnixMilli()
		res.StartTime = &ms
	}
	if !f.EndTime.IsZero() {
		ms := f.EndTime.UnixMilli()
		res.EndTime = &ms
	}
	return res
}

// Set changes a form field by its name. Names are the wire names (jobName, cronExpression, ...)
// with short aliases accepted. Cron takes a preset alias (@5m, @hourly, ...) or an expression.
// Method is upper-cased, times use "2006-01-02 15:04:05" in local zone and an empty value clears them.
func (f *Form) Set(field, value string) error {
	switch strings.ToLower(field) {
	case "jobname", "name":
		f.JobName = value
	case "jobgroup", "group":
		f.JobGroup = value
	case "description", "desc":
		f.Description = value
	case "cronexpression", "cron":
		if alias := strings.TrimSpace(value); strings.HasPrefix(alias, "@") {
			cron, ok := presetCron(alias)
			if !ok {
				return fmt.Errorf("unknown cron preset %q", alias)
			}
			value = cron
		}
		f.CronExpression = value
	case "method":
		f.Method = strings.ToUpper(strings.TrimSpace(value))
	case "url":
		f.URL = value
	case "body":
		f.Body = value
	case "starttime", "start":
		ts, err := parseTime(value)
		if err != nil {
			return fmt.Errorf("bad start time: %w", err)
		}
		f.StartTime = ts
	case "endtime", "end":
		ts, err := parseTime(value)
		if err != nil {
			return fmt.Errorf("bad end time: %w", err)
		}
		f.EndTime = ts
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

// SetProp adds or replaces additional property, keys are trimmed
func (f *Form) SetProp(key, value string) {
	key = strings.TrimSpace(key)
	for i, p := range f.Props {
		if p.Key == key {
			f.Props[i].Value = value
			return
		}
	}
	f.Props = append(f.Props, jobdata.Property{Key: key, Value: value})
}

// RemoveProp deletes additional property, returns false if there was no such key
func (f *Form) RemoveProp(key string) bool {
	key = strings.TrimSpace(key)
	idx := slices.IndexFunc(f.Props, func(p jobdata.Property) bool { return p.Key == key })
	if idx < 0 {
		return false
	}
	f.Props = slices.Delete(f.Props, idx, idx+1)
	return true
}

// Clone returns a copy not sharing props with the original
func (f Form) Clone() Form {
	f.Props = slices.Clone(f.Props)
	if f.Props == nil {
		f.Props = []jobdata.Property{}
	}
	return f
}

func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(TimeLayout, strings.TrimSpace(s), time.Local)
}

func presetCron(alias string) (string, bool) {
	for _, p := range CronPresets {
		if strings.EqualFold(p.Alias, alias) {
			return p.Cron, true
		}
	}
	return "", false
}
