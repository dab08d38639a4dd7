package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/umputun/qman/app/console"
	"github.com/umputun/qman/app/enums"
	"github.com/umputun/qman/app/jobdata"
	"github.com/umputun/qman/app/jobform"
	"github.com/umputun/qman/app/scheduler"
)

// detailsHistory is the number of recent executions shown in details view
const detailsHistory = 5

// Render makes the text screen of the state for its current view
func Render(st console.State) string {
	var b strings.Builder
	if st.Alert != "" {
		b.WriteString(pterm.Error.Sprintln(st.Alert + " (type 'ok' to dismiss)"))
	}
	switch st.View {
	case enums.ViewDashboard:
		renderDashboard(&b, st)
	case enums.ViewForm:
		renderForm(&b, st)
	case enums.ViewDetails:
		renderDetails(&b, st)
	case enums.ViewHistory:
		renderHistory(&b, st)
	}
	return b.String()
}

func renderDashboard(b *strings.Builder, st console.State) {
	stats := st.Stats()
	fmt.Fprintf(b, "%s  total %d, %s %d, %s %d", pterm.LightCyan("jobs"), stats.Total,
		pterm.Green("active"), stats.Active, pterm.Yellow("paused"), stats.Paused)
	if st.Search != "" {
		fmt.Fprintf(b, "  %s %q", pterm.Gray("search:"), st.Search)
	}
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(b, "  %s %s", pterm.Gray("updated"), st.UpdatedAt.Format(time.TimeOnly))
	}
	b.WriteString("\n")
	if st.ListError != "" {
		b.WriteString(pterm.Warning.Sprintln("can't refresh jobs: " + st.ListError))
	}

	jobs := st.Filtered()
	if len(jobs) == 0 {
		switch {
		case st.Loading && len(st.Jobs) == 0:
			b.WriteString(pterm.Gray("loading...") + "\n")
		case st.Search != "":
			b.WriteString(pterm.Gray("no jobs match the search") + "\n")
		default:
			b.WriteString(pterm.Gray("no jobs, type 'new' to create one") + "\n")
		}
		return
	}

	data := [][]string{{"#", "Group", "Name", "Cron", "Method", "URL", "State", "Last run", "Next run"}}
	for i, j := range jobs {
		f := jobdata.Decode(j.JobDataMap)
		data = append(data, []string{strconv.Itoa(i + 1), j.JobGroup, j.JobName, j.CronExpression, f.Method, f.URL,
			stateLabel(j.State), j.LastExecutionTime, j.NextExecutionTime})
	}
	writeTable(b, data)
}

func renderForm(b *strings.Builder, st console.State) {
	f := st.Form
	title := "new job"
	if st.Mode == enums.FormModeEdit && st.Job != nil {
		title = "edit job " + st.Job.Key()
	}
	b.WriteString(pterm.LightCyan(title) + "\n")

	fieldErr := func(name string) string {
		if msg := st.FormErrors.Field(name); msg != "" {
			return pterm.Red(msg)
		}
		return ""
	}
	data := [][]string{
		{"Field", "Value", ""},
		{"name", f.JobName, fieldErr("jobName")},
		{"group", f.JobGroup, fieldErr("jobGroup")},
		{"desc", f.Description, ""},
		{"cron", f.CronExpression, fieldErr("cronExpression")},
		{"method", f.Method, fieldErr("method")},
		{"url", f.URL, fieldErr("url")},
	}
	if f.BodyEnabled() {
		data = append(data, []string{"body", f.Body, ""})
	}
	data = append(data, []string{"start", formTime(f.StartTime), ""}, []string{"end", formTime(f.EndTime), fieldErr("endTime")})
	for _, p := range f.Props {
		data = append(data, []string{"prop " + p.Key, p.Value, ""})
	}
	if msg := fieldErr("props"); msg != "" {
		data = append(data, []string{"props", "", msg})
	}
	writeTable(b, data)

	if st.Mode == enums.FormModeCreate && len(st.Groups) > 0 {
		fmt.Fprintf(b, "%s %s\n", pterm.Gray("groups:"), strings.Join(st.Groups, ", "))
	}
	if st.FormError != "" {
		b.WriteString(pterm.Error.Sprintln(st.FormError))
	}
	if st.Submitting {
		b.WriteString(pterm.Gray("saving...") + "\n")
	}
}

func renderDetails(b *strings.Builder, st console.State) {
	if st.Job == nil {
		return
	}
	j := st.Job
	f := jobdata.Decode(j.JobDataMap)
	b.WriteString(pterm.LightCyan("job "+j.Key()) + "\n")
	data := [][]string{
		{"Attribute", "Value"},
		{"description", j.Description},
		{"cron", j.CronExpression},
		{"state", stateLabel(j.State)},
		{"trigger", j.TriggerGroup + "/" + j.TriggerName},
		{"last run", j.LastExecutionTime},
		{"next run", j.NextExecutionTime},
		{"method", f.Method},
		{"url", f.URL},
	}
	if f.Body != "" {
		data = append(data, []string{"body", f.Body})
	}
	for _, p := range f.Props {
		data = append(data, []string{p.Key, p.Value})
	}
	writeTable(b, data)

	b.WriteString(pterm.LightCyan("recent executions") + "\n")
	logs := st.History
	if len(logs) > detailsHistory {
		logs = logs[:detailsHistory]
	}
	renderLogs(b, logs, st.HistoryLoading)
}

func renderHistory(b *strings.Builder, st console.State) {
	if st.Job == nil {
		return
	}
	b.WriteString(pterm.LightCyan("history of "+st.Job.Key()) + "\n")
	renderLogs(b, st.History, st.HistoryLoading)
}

func renderLogs(b *strings.Builder, logs []scheduler.ExecutionLog, loading bool) {
	if len(logs) == 0 {
		if loading {
			b.WriteString(pterm.Gray("loading...") + "\n")
			return
		}
		b.WriteString(pterm.Gray("no executions") + "\n")
		return
	}
	data := [][]string{{"Fired", "Ended", "Duration", "Status", "Message"}}
	for _, l := range logs {
		data = append(data, []string{l.FireTime, l.EndTime, (time.Duration(l.Duration) * time.Millisecond).String(),
			statusLabel(l.Status), l.Message})
	}
	writeTable(b, data)
}

func writeTable(b *strings.Builder, data [][]string) {
	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		fmt.Fprintf(b, "can't render table: %v\n", err)
		return
	}
	b.WriteString(s + "\n")
}

func stateLabel(state string) string {
	switch state {
	case "NORMAL":
		return pterm.Green(state)
	case scheduler.StatePaused:
		return pterm.Yellow(state)
	case "ERROR", "BLOCKED":
		return pterm.Red(state)
	}
	return state
}

func statusLabel(status string) string {
	switch status {
	case scheduler.StatusSuccess:
		return pterm.Green(status)
	case scheduler.StatusFailure:
		return pterm.Red(status)
	case scheduler.StatusVetoed:
		return pterm.Yellow(status)
	}
	return status
}

func formTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(jobform.TimeLayout)
}
