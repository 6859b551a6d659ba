package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sanonone/lacuna/pkg/overview"
)

func TestAuthToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}

	c.SetAuthToken("secret")
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health with token failed: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", gotAuth)
	}
}

func TestBuildGraph(t *testing.T) {
	var gotReq overview.GraphRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/overview/graph" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("X-Task-ID", "task-123")
		json.NewEncoder(w).Encode(overview.Response{
			K:         "cooling loop",
			GroupMode: overview.GroupByAssignee,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)

	t.Run("default request", func(t *testing.T) {
		resp, task, err := c.BuildGraph(context.Background(), nil)
		if err != nil {
			t.Fatalf("BuildGraph failed: %v", err)
		}
		if gotReq.Neighbors != overview.DefaultGraphRequest().Neighbors {
			t.Errorf("server saw neighbors=%d, want the default", gotReq.Neighbors)
		}
		if resp.K != "cooling loop" || resp.GroupMode != overview.GroupByAssignee {
			t.Errorf("resp = %+v", resp)
		}
		if task == nil || task.ID != "task-123" {
			t.Fatalf("task = %+v, want id task-123", task)
		}
	})

	t.Run("custom scope", func(t *testing.T) {
		req := overview.DefaultGraphRequest()
		req.FocusKeywords = []string{"battery"}
		req.Neighbors = 7
		if _, _, err := c.BuildGraph(context.Background(), &req); err != nil {
			t.Fatalf("BuildGraph failed: %v", err)
		}
		if gotReq.Neighbors != 7 || len(gotReq.FocusKeywords) != 1 {
			t.Errorf("server saw %+v", gotReq)
		}
	})
}

func TestAPIErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "limit must be between 1 and 2000"})
	}))
	defer srv.Close()

	_, _, err := New(srv.URL).BuildGraph(context.Background(), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if apiErr.Message != "limit must be between 1 and 2000" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/overview/summary" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("keywords") != "thermal" || q.Get("cpc") != "F28D,H01M" {
			t.Errorf("query = %v", q)
		}
		if q.Get("semantic") != "true" || q.Get("tau") != "0.75" || q.Get("semantic_limit") != "200" {
			t.Errorf("semantic params = %v", q)
		}
		json.NewEncoder(w).Encode(overview.ScopeSummary{
			Crowding:     overview.CrowdingMetrics{Total: 42},
			WindowMonths: 6,
		})
	}))
	defer srv.Close()

	tau := 0.75
	sum, err := New(srv.URL).Summary(context.Background(), SummaryParams{
		Keywords:      "thermal",
		CPC:           "F28D,H01M",
		Semantic:      true,
		Tau:           &tau,
		SemanticLimit: 200,
	})
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.Crowding.Total != 42 || sum.WindowMonths != 6 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestIngestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ingest/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"patents":   12,
			"assignees": 2,
			"models":    []map[string]any{{"model": "minilm", "count": 10, "pending": 2}},
			"workers":   []map[string]any{{"name": "nightly", "model": "minilm", "is_running": false, "current_state": "idle"}},
		})
	}))
	defer srv.Close()

	status, err := New(srv.URL).IngestStatus(context.Background())
	if err != nil {
		t.Fatalf("IngestStatus failed: %v", err)
	}
	if status.Patents != 12 || status.Assignees != 2 {
		t.Errorf("status = %+v", status)
	}
	if len(status.Models) != 1 || status.Models[0].Pending != 2 {
		t.Errorf("models = %+v", status.Models)
	}
	if len(status.Workers) != 1 || status.Workers[0].CurrentState != "idle" {
		t.Errorf("workers = %+v", status.Workers)
	}
}

func TestTriggerVectorizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/vectorizers/nightly/trigger" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "triggered", "name": "nightly"})
	}))
	defer srv.Close()

	if err := New(srv.URL).TriggerVectorizer(context.Background(), "nightly"); err != nil {
		t.Fatalf("TriggerVectorizer failed: %v", err)
	}
}

func TestTaskWait(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/tasks/task-9" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			calls++
			status := "running"
			if calls >= 3 {
				status = "completed"
			}
			json.NewEncoder(w).Encode(map[string]string{
				"id": "task-9", "kind": "overview-persist", "status": status,
			})
		}))
		defer srv.Close()

		task, err := New(srv.URL).GetTask(context.Background(), "task-9")
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		if task.Status != "running" {
			t.Fatalf("status = %q", task.Status)
		}
		if err := task.Wait(context.Background(), time.Millisecond); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if task.Status != "completed" {
			t.Errorf("status after Wait = %q", task.Status)
		}
	})

	t.Run("failure surfaces the task error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{
				"id": "task-9", "status": "failed", "error": "disk full",
			})
		}))
		defer srv.Close()

		task, err := New(srv.URL).GetTask(context.Background(), "task-9")
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		err = task.Wait(context.Background(), time.Millisecond)
		if err == nil || !strings.Contains(err.Error(), "disk full") {
			t.Fatalf("err = %v, want the task error", err)
		}
	})

	t.Run("context cancels the wait", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"id": "task-9", "status": "running"})
		}))
		defer srv.Close()

		task, err := New(srv.URL).GetTask(context.Background(), "task-9")
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := task.Wait(ctx, time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	})
}
