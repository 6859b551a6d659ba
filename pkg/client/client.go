// Package client provides a Go client for the lacuna HTTP API.
//
// It covers the full surface of the server:
//   - Overview graph builds (BuildGraph) with background persist tracking.
//   - Scope summaries (Summary).
//   - Corpus and vectorizer introspection (IngestStatus, TriggerVectorizer).
//   - Task polling for the asynchronous write-back (GetTask, Task.Wait).
//
// The client handles JSON serialization, Bearer authentication and
// standardized error handling. Graph and summary responses decode into the
// pkg/overview types, so downstream code works with the same structs the
// server produces.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sanonone/lacuna/pkg/overview"
)

// APIError represents an error returned by the lacuna API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Task tracks an asynchronous operation on the server, currently the
// overview write-back spawned after a graph build.
type Task struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	Status          string    `json:"status"`
	ProgressMessage string    `json:"progress_message,omitempty"`
	Error           string    `json:"error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`

	client *Client // Reference to the client for polling.
}

// ModelCoverage reports the embedding coverage of one model.
type ModelCoverage struct {
	Model   string `json:"model"`
	Count   int    `json:"count"`
	Pending int    `json:"pending"`
}

// WorkerStatus reports the state of one background vectorizer worker.
type WorkerStatus struct {
	Name         string    `json:"name"`
	Model        string    `json:"model"`
	IsRunning    bool      `json:"is_running"`
	LastRun      time.Time `json:"last_run"`
	CurrentState string    `json:"current_state"`
}

// IngestStatus reports corpus size and embedding coverage.
type IngestStatus struct {
	Patents   int             `json:"patents"`
	Assignees int             `json:"assignees"`
	Models    []ModelCoverage `json:"models"`
	Workers   []WorkerStatus  `json:"workers,omitempty"`
}

// SummaryParams filters a scope summary. CPC takes a comma-separated list
// of prefixes; zero values are simply omitted from the query.
type SummaryParams struct {
	Keywords      string
	CPC           string
	DateFrom      string // YYYY-MM-DD, inclusive
	DateTo        string // YYYY-MM-DD, exclusive
	Semantic      bool
	Tau           *float64
	SemanticLimit int
}

// Client is the Go client for the lacuna API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a client for the server at baseURL, e.g. "http://localhost:9091".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Graph builds on a large scope can take a while.
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// SetAuthToken attaches a Bearer token to every subsequent request.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// jsonRequest executes one API request. It handles JSON serialization,
// authentication and error mapping; the response header is returned so
// callers can pick up X-Task-ID.
func (c *Client) jsonRequest(ctx context.Context, method, endpoint string, payload any) ([]byte, http.Header, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil && errResp["error"] != "" {
			return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	return respBody, resp.Header, nil
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, _, err := c.jsonRequest(ctx, http.MethodGet, "/healthz", nil)
	return err
}

// BuildGraph runs one overview build. Start from overview.DefaultGraphRequest
// and adjust; a nil request runs the default scope. When the build produced
// artifacts to store, the returned Task tracks the background write-back
// (nil otherwise).
func (c *Client) BuildGraph(ctx context.Context, req *overview.GraphRequest) (*overview.Response, *Task, error) {
	if req == nil {
		r := overview.DefaultGraphRequest()
		req = &r
	}

	respBody, header, err := c.jsonRequest(ctx, http.MethodPost, "/api/overview/graph", req)
	if err != nil {
		return nil, nil, err
	}

	var resp overview.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON response for BuildGraph: %w", err)
	}

	var task *Task
	if id := header.Get("X-Task-ID"); id != "" {
		task = &Task{ID: id, Status: "started", client: c}
	}
	return &resp, task, nil
}

// Summary reports how crowded and how fast-moving a scope is.
func (c *Client) Summary(ctx context.Context, params SummaryParams) (*overview.ScopeSummary, error) {
	q := url.Values{}
	if params.Keywords != "" {
		q.Set("keywords", params.Keywords)
	}
	if params.CPC != "" {
		q.Set("cpc", params.CPC)
	}
	if params.DateFrom != "" {
		q.Set("date_from", params.DateFrom)
	}
	if params.DateTo != "" {
		q.Set("date_to", params.DateTo)
	}
	if params.Semantic {
		q.Set("semantic", "true")
	}
	if params.Tau != nil {
		q.Set("tau", strconv.FormatFloat(*params.Tau, 'f', -1, 64))
	}
	if params.SemanticLimit > 0 {
		q.Set("semantic_limit", strconv.Itoa(params.SemanticLimit))
	}

	endpoint := "/api/overview/summary"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	respBody, _, err := c.jsonRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var summary overview.ScopeSummary
	if err := json.Unmarshal(respBody, &summary); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Summary: %w", err)
	}
	return &summary, nil
}

// IngestStatus reports corpus counts, per-model embedding coverage and the
// state of the vectorizer workers.
func (c *Client) IngestStatus(ctx context.Context) (*IngestStatus, error) {
	respBody, _, err := c.jsonRequest(ctx, http.MethodGet, "/api/ingest/status", nil)
	if err != nil {
		return nil, err
	}
	var status IngestStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("invalid JSON response for IngestStatus: %w", err)
	}
	return &status, nil
}

// TriggerVectorizer kicks off one worker's embedding pass immediately
// instead of waiting for its next scheduled tick.
func (c *Client) TriggerVectorizer(ctx context.Context, name string) error {
	_, _, err := c.jsonRequest(ctx, http.MethodPost, "/api/vectorizers/"+url.PathEscape(name)+"/trigger", nil)
	return err
}

// GetTask retrieves the status of a background task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	respBody, _, err := c.jsonRequest(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(respBody, &task); err != nil {
		return nil, fmt.Errorf("invalid JSON response for GetTask: %w", err)
	}
	task.client = c
	return &task, nil
}

// Refresh updates the task's status by querying the server.
func (t *Task) Refresh(ctx context.Context) error {
	if t.client == nil {
		return fmt.Errorf("client is not associated with the task")
	}
	updated, err := t.client.GetTask(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Kind = updated.Kind
	t.Status = updated.Status
	t.ProgressMessage = updated.ProgressMessage
	t.Error = updated.Error
	t.UpdatedAt = updated.UpdatedAt
	return nil
}

// Wait blocks until the task completes, polling at the given interval. It
// returns the task's error when the task failed, and ctx.Err() when the
// context ends first.
func (t *Task) Wait(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				return err
			}
			switch t.Status {
			case "completed":
				return nil
			case "failed":
				return fmt.Errorf("task %s failed with error: %s", t.ID, t.Error)
			case "running", "started":
				// Continue waiting.
			default:
				return fmt.Errorf("unknown task status: %s", t.Status)
			}
		}
	}
}
