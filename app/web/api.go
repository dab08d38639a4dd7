package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/qman/app/console"
	"github.com/umputun/qman/app/jobdata"
	"github.com/umputun/qman/app/scheduler"
)

// defaultHistoryLimit is the number of archived executions returned if no limit requested
const defaultHistoryLimit = 50

// APIStatusResponse is the JSON response for /api/v1/status
type APIStatusResponse struct {
	Jobs      []APIJob      `json:"jobs"`
	Stats     console.Stats `json:"stats"`
	View      string        `json:"view"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at,omitzero"`
}

// APIJob represents a job in JSON API response
type APIJob struct {
	Group         string    `json:"group"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Cron          string    `json:"cron"`
	State         string    `json:"state"`
	Paused        bool      `json:"paused"`
	Method        string    `json:"method"`
	URL           string    `json:"url"`
	LastExecution string    `json:"last_execution"`
	NextExecution string    `json:"next_execution"`
	LastRun       time.Time `json:"last_run,omitzero"`
	NextRun       time.Time `json:"next_run,omitzero"`
}

// APIHistoryResponse is the JSON response for archived job history
type APIHistoryResponse struct {
	Group      string                   `json:"group"`
	Name       string                   `json:"name"`
	Executions []scheduler.ExecutionLog `json:"executions"`
}

// toAPIJob converts scheduler.TriggerInfo to APIJob
func toAPIJob(t scheduler.TriggerInfo) APIJob {
	f := jobdata.Decode(t.JobDataMap)
	res := APIJob{
		Group:         t.JobGroup,
		Name:          t.JobName,
		Description:   t.Description,
		Cron:          t.CronExpression,
		State:         t.State,
		Paused:        t.Paused(),
		Method:        f.Method,
		URL:           f.URL,
		LastExecution: t.LastExecutionTime,
		NextExecution: t.NextExecutionTime,
	}
	res.LastRun, _ = t.LastRun()
	res.NextRun, _ = t.NextRun()
	return res
}

// handleAPIStatus returns dashboard jobs and stats, designed for CLI/jq consumption.
// Optional "search" query filters jobs the same way the console does, stats are always for all jobs.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	st := s.state.Snapshot()
	filtered := console.Filter(st.Jobs, r.URL.Query().Get("search"))

	jobs := make([]APIJob, 0, len(filtered))
	for _, j := range filtered {
		jobs = append(jobs, toAPIJob(j))
	}

	resp := APIStatusResponse{
		Jobs:      jobs,
		Stats:     st.Stats(),
		View:      st.View.String(),
		Error:     st.ListError,
		UpdatedAt: st.UpdatedAt,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handlePing answers liveness checks, the same "pong" go-pkgz/rest Ping gives
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		log.Printf("[WARN] failed to write ping response: %v", err)
	}
}

// handleAPIHistory returns archived executions of the job, most recent first
func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSONError(w, http.StatusNotFound, "history archive is disabled")
		return
	}
	group, name := r.PathValue("group"), r.PathValue("name")

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	executions, err := s.history.Executions(r.Context(), group, name, limit)
	if err != nil {
		log.Printf("[ERROR] failed to get executions for job %s/%s: %v", group, name, err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load execution history")
		return
	}

	s.writeJSON(w, http.StatusOK, APIHistoryResponse{Group: group, Name: name, Executions: executions})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
