package console

import (
	"strings"
	"time"

	"github.com/umputun/qman/app/enums"
	"github.com/umputun/qman/app/jobform"
	"github.com/umputun/qman/app/scheduler"
)

// State is the console application state. The controller publishes it as an immutable
// snapshot, slices are replaced on change and never modified in place.
type State struct {
	View  enums.View
	Mode  enums.FormMode         // form mode, FormModeNone outside of form view
	Job   *scheduler.TriggerInfo // job snapshot for edit, details and history views
	Epoch uint64                 // view instance, changes on every navigation

	// dashboard
	Jobs      []scheduler.TriggerInfo
	Search    string
	ListError string // banner, the list above is the last good one
	Loading   bool
	UpdatedAt time.Time // last successful list

	// form
	Form       jobform.Form
	Groups     []string
	FormErrors jobform.FieldErrors
	FormError  string // scheduler rejection, shown inline
	Submitting bool

	// details and history
	History        []scheduler.ExecutionLog
	HistoryLoading bool

	Alert string // blocking alert, cleared by DismissAlert
}

// Stats is the dashboard partition of jobs by trigger state
type Stats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Paused int `json:"paused"`
}

// Filtered returns jobs matching current search term
func (s State) Filtered() []scheduler.TriggerInfo {
	return Filter(s.Jobs, s.Search)
}

// Stats returns counters for all loaded jobs, not affected by search
func (s State) Stats() Stats {
	return Partition(s.Jobs)
}

// Filter returns jobs with name or group containing the term, case-insensitive.
// Empty term returns jobs unchanged.
func Filter(jobs []scheduler.TriggerInfo, term string) []scheduler.TriggerInfo {
	if term == "" {
		return jobs
	}
	term = strings.ToLower(term)
	res := make([]scheduler.TriggerInfo, 0, len(jobs))
	for _, j := range jobs {
		if strings.Contains(strings.ToLower(j.JobName), term) || strings.Contains(strings.ToLower(j.JobGroup), term) {
			res = append(res, j)
		}
	}
	return res
}

// Partition counts paused and active jobs, everything not paused is active
func Partition(jobs []scheduler.TriggerInfo) Stats {
	res := Stats{Total: len(jobs)}
	for _, j := range jobs {
		if j.Paused() {
			res.Paused++
			continue
		}
		res.Active++
	}
	return res
}
