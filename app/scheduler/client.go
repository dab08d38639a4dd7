// Package scheduler is a client of the remote job scheduler API. It lists, creates, updates and
// deletes jobs and fetches their execution history. Listing and deleting fail with *TransportError,
// saving fails with *ValidationError carrying the scheduler's message, while group listing and
// history fetching degrade silently to defaults.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
)

// DefaultHistoryLimit is the number of history records the scheduler returns for a job
const DefaultHistoryLimit = 20

// maxBodySize limits how much of any response is read
const maxBodySize = 1024 * 1024

// Client talks to the scheduler's JSON API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	historyLimit int
}

// Params for the client
type Params struct {
	BaseURL      string        // scheduler base URL, e.g. http://localhost:8080
	Timeout      time.Duration // http client timeout, 0 leaves it to the transport
	HistoryLimit int           // default limit for FetchHistory, DefaultHistoryLimit if 0
	HTTPClient   *http.Client  // optional, overrides Timeout
}

// New makes a scheduler client
func New(p Params) *Client {
	res := &Client{
		baseURL:      strings.TrimSuffix(p.BaseURL, "/"),
		httpClient:   p.HTTPClient,
		historyLimit: p.HistoryLimit,
	}
	if res.httpClient == nil {
		res.httpClient = &http.Client{Timeout: p.Timeout}
	}
	if res.historyLimit <= 0 {
		res.historyLimit = DefaultHistoryLimit
	}
	return res
}

// String returns scheduler's base URL
func (c *Client) String() string { return c.baseURL }

// ListJobs returns all jobs with their triggers
func (c *Client) ListJobs(ctx context.Context) ([]TriggerInfo, error) {
	const op = "list jobs"
	body, status, err := c.do(ctx, http.MethodGet, "/api/jobs", nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if !isSuccess(status) {
		return nil, &TransportError{Op: op, Status: status}
	}

	res := []TriggerInfo{}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to decode jobs: %w", err)}
	}
	log.Printf("[DEBUG] listed %d jobs from %s", len(res), c.baseURL)
	return res, nil
}

// ListGroups returns job groups known to the scheduler. It never fails, on any error it returns
// the default group only. The default group is always included.
func (c *Client) ListGroups(ctx context.Context) []string {
	fallback := []string{DefaultGroup}
	body, status, err := c.do(ctx, http.MethodGet, "/api/jobs/groups", nil)
	if err != nil {
		log.Printf("[WARN] failed to list job groups: %v", err)
		return fallback
	}
	if !isSuccess(status) {
		log.Printf("[WARN] failed to list job groups, status %d", status)
		return fallback
	}

	var groups []string
	if err := json.Unmarshal(body, &groups); err != nil {
		log.Printf("[WARN] failed to decode job groups: %v", err)
		return fallback
	}

	res := make([]string, 0, len(groups)+1)
	seen := map[string]bool{}
	for _, g := range append(groups, DefaultGroup) {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		res = append(res, g)
	}
	return res
}

// SaveJob creates a new job or replaces an existing one with the same group and name.
// A rejection by the scheduler returned as *ValidationError with the response body as message.
func (c *Client) SaveJob(ctx context.Context, req JobRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode job %s/%s: %w", req.JobGroup, req.JobName, err)
	}

	body, status, err := c.do(ctx, http.MethodPost, "/api/jobs", payload)
	if err != nil {
		return &TransportError{Op: "save job", Err: err}
	}
	if !isSuccess(status) {
		msg := string(body)
		if strings.TrimSpace(msg) == "" {
			msg = fmt.Sprintf("failed to schedule job, status %d", status)
		}
		return &ValidationError{Status: status, Message: msg}
	}
	log.Printf("[INFO] saved job %s/%s", req.JobGroup, req.JobName)
	return nil
}

// DeleteJob removes the job and its trigger. Confirmation is up to the caller.
func (c *Client) DeleteJob(ctx context.Context, group, name string) error {
	const op = "delete job"
	_, status, err := c.do(ctx, http.MethodDelete, jobPath("/api/jobs", group, name), nil)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if !isSuccess(status) {
		return &TransportError{Op: op, Status: status}
	}
	log.Printf("[INFO] deleted job %s/%s", group, name)
	return nil
}

// FetchHistory returns up to limit most recent executions of the job, the client's default limit
// is used if limit <= 0. History is supplementary, so failures are logged and an empty list returned.
func (c *Client) FetchHistory(ctx context.Context, group, name string, limit int) []ExecutionLog {
	if limit <= 0 {
		limit = c.historyLimit
	}
	res := []ExecutionLog{}

	body, status, err := c.do(ctx, http.MethodGet, jobPath("/api/history", group, name), nil)
	if err != nil {
		log.Printf("[WARN] failed to fetch history for %s/%s: %v", group, name, err)
		return res
	}
	if !isSuccess(status) {
		log.Printf("[WARN] failed to fetch history for %s/%s, status %d", group, name, status)
		return res
	}
	if err := json.Unmarshal(body, &res); err != nil {
		log.Printf("[WARN] failed to decode history for %s/%s: %v", group, name, err)
		return []ExecutionLog{}
	}
	if res == nil { // body was "null"
		res = []ExecutionLog{}
	}
	if len(res) > limit {
		res = res[:limit]
	}
	return res
}

// GetJob fetches current state of a single job. The scheduler has no single-job endpoint,
// so it lists all jobs and picks the one with the given key.
func (c *Client) GetJob(ctx context.Context, group, name string) (TriggerInfo, error) {
	jobs, err := c.ListJobs(ctx)
	if err != nil {
		return TriggerInfo{}, err
	}
	for _, j := range jobs {
		if j.JobGroup == group && j.JobName == name {
			return j, nil
		}
	}
	return TriggerInfo{}, fmt.Errorf("%s/%s: %w", group, name, ErrJobNotFound)
}

// do makes a request and returns response body and status
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (body []byte, status int, err error) {
	var reqBody io.Reader = http.NoBody
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("[WARN] failed to close response body: %v", closeErr)
		}
	}()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func jobPath(prefix, group, name string) string {
	return prefix + "/" + url.PathEscape(group) + "/" + url.PathEscape(name)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
