// Package schedulertest provides an in-memory fake of the scheduler HTTP API for tests.
// It stores jobs, reports them back as trigger infos and serves canned history; nothing is fired.
package schedulertest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/umputun/qman/app/jobdata"
	"github.com/umputun/qman/app/scheduler"
)

// Server is a fake scheduler backed by httptest.Server
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	jobs    map[string]scheduler.TriggerInfo
	history map[string][]scheduler.ExecutionLog
	fail    map[string]int // route pattern -> forced status
	reject  string         // if set, POST /api/jobs fails with 400 and this text
	calls   atomic.Int64
}

// NewServer starts a fake scheduler, caller should Close it
func NewServer() *Server {
	s := &Server{
		jobs:    map[string]scheduler.TriggerInfo{},
		history: map[string][]scheduler.ExecutionLog{},
		fail:    map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs", s.route("GET /api/jobs", s.handleList))
	mux.HandleFunc("GET /api/jobs/groups", s.route("GET /api/jobs/groups", s.handleGroups))
	mux.HandleFunc("POST /api/jobs", s.route("POST /api/jobs", s.handleSave))
	mux.HandleFunc("DELETE /api/jobs/{group}/{name}", s.route("DELETE /api/jobs/{group}/{name}", s.handleDelete))
	mux.HandleFunc("GET /api/history/{group}/{name}", s.route("GET /api/history/{group}/{name}", s.handleHistory))
	s.Server = httptest.NewServer(mux)
	return s
}

// Fail forces the route (as registered, e.g. "GET /api/jobs") to respond with status, 0 clears it
func (s *Server) Fail(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.fail, route)
		return
	}
	s.fail[route] = status
}

// Reject makes job saves fail with 400 and the given text, empty clears it
func (s *Server) Reject(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = msg
}

// AddJob puts a job directly into the fake store
func (s *Server) AddJob(t scheduler.TriggerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[t.Key()] = t
}

// Job returns stored job by key
func (s *Server) Job(group, name string) (scheduler.TriggerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[group+"/"+name]
	return j, ok
}

// SetHistory sets canned history for a job
func (s *Server) SetHistory(group, name string, logs []scheduler.ExecutionLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[group+"/"+name] = logs
}

// Calls returns number of requests served
func (s *Server) Calls() int64 { return s.calls.Load() }

func (s *Server) route(pattern string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.mu.Lock()
		status, failing := s.fail[pattern]
		s.mu.Unlock()
		if failing {
			http.Error(w, http.StatusText(status), status)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	res := make([]scheduler.TriggerInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		res = append(res, j)
	}
	s.mu.Unlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Key() < res[j].Key() })
	writeJSON(w, res)
}

func (s *Server) handleGroups(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	seen := map[string]bool{}
	res := []string{}
	for _, j := range s.jobs {
		if !seen[j.JobGroup] {
			seen[j.JobGroup] = true
			res = append(res, j.JobGroup)
		}
	}
	s.mu.Unlock()
	sort.Strings(res)
	writeJSON(w, res)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.reject
	s.mu.Unlock()
	if reject != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, reject)
		return
	}

	var req scheduler.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error scheduling job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	t := scheduler.TriggerInfo{
		JobName:           req.JobName,
		JobGroup:          req.JobGroup,
		Description:       req.Description,
		CronExpression:    req.CronExpression,
		JobDataMap:        jobdata.DataMap{},
		TriggerName:       req.JobName + "_trigger",
		TriggerGroup:      req.JobGroup,
		State:             "NORMAL",
		LastExecutionTime: scheduler.TimeNever,
		NextExecutionTime: "2030-01-01 00:00:00",
	}
	for k, v := range req.JobDataMap {
		t.JobDataMap[k] = v
	}

	s.mu.Lock()
	if prev, ok := s.jobs[t.Key()]; ok {
		t.LastExecutionTime = prev.LastExecutionTime
		t.State = prev.State
	}
	s.jobs[t.Key()] = t
	s.mu.Unlock()
	_, _ = io.WriteString(w, "Job scheduled successfully")
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("group") + "/" + r.PathValue("name")
	s.mu.Lock()
	delete(s.jobs, key)
	s.mu.Unlock()
	_, _ = io.WriteString(w, "Job deleted successfully")
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("group") + "/" + r.PathValue("name")
	s.mu.Lock()
	res := s.history[key]
	s.mu.Unlock()
	if res == nil {
		res = []scheduler.ExecutionLog{}
	}
	if len(res) > scheduler.DefaultHistoryLimit {
		res = res[:scheduler.DefaultHistoryLimit]
	}
	writeJSON(w, res)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
