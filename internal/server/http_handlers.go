package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/sanonone/lacuna/internal/store"
	"github.com/sanonone/lacuna/pkg/overview"
	"github.com/sanonone/lacuna/pkg/persistence"
)

// persistTimeout bounds the background write-back of one build, retries
// included.
const persistTimeout = 30 * time.Second

// registerHTTPHandlers sets up the REST API routes.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/overview/graph", s.handleOverviewGraph)
	mux.HandleFunc("GET /api/overview/summary", s.handleOverviewSummary)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleTaskStatus)
	mux.HandleFunc("GET /api/ingest/status", s.handleIngestStatus)
	mux.HandleFunc("POST /api/vectorizers/{name}/trigger", s.handleVectorizerTrigger)

	// Debug endpoints (pprof).
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleOverviewGraph builds one whitespace overview graph. Missing body
// fields keep their defaults, so an empty body runs the default scope. When
// the build produced artifacts to store, the write-back runs as a tracked
// background task and the response carries its id in X-Task-ID.
func (s *Server) handleOverviewGraph(w http.ResponseWriter, r *http.Request) {
	req := overview.DefaultGraphRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeHTTPError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	resp, upd, err := s.engine.BuildGraph(r.Context(), &req)
	if err != nil {
		s.writeOverviewError(w, err)
		return
	}

	if upd != nil {
		task := s.spawnPersist(upd)
		w.Header().Set("X-Task-ID", task.ID())
	}
	s.writeHTTPResponse(w, http.StatusOK, resp)
}

// spawnPersist runs the overview write-back off the request path. The HTTP
// response does not wait for it; clients poll /api/tasks/{id} if they care.
func (s *Server) spawnPersist(upd *overview.OverviewUpdate) *Task {
	task := s.taskManager.NewTask("overview-persist")
	task.SetProgress(fmt.Sprintf("persisting %d nodes", len(upd.IDs)))

	go func() {
		task.SetStatus(TaskStatusRunning)
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := s.engine.Persist(ctx, upd); err != nil {
			task.SetError(err)
			return
		}
		if s.journal != nil {
			rec := persistence.Record{
				RunID: task.ID(),
				Model: upd.Model,
				Nodes: len(upd.IDs),
				Edges: edgeCount(upd),
			}
			if err := s.journal.Append(rec); err != nil {
				s.logger.Warn("could not append to overview journal", "error", err)
			}
		}
		task.SetStatus(TaskStatusCompleted)
	}()

	return task
}

// edgeCount mirrors the sink's edge derivation: one edge per neighbor entry,
// self column skipped.
func edgeCount(upd *overview.OverviewUpdate) int {
	if upd.Neighbors == nil {
		return 0
	}
	n := 0
	for i, row := range upd.Neighbors.Idx {
		for _, j := range row {
			if int(j) != i {
				n++
			}
		}
	}
	return n
}

// handleOverviewSummary reports scope statistics for a keyword/CPC/date
// filter. All parameters arrive in the query string; malformed ones are
// rejected here because the summarizer treats unparseable dates as unset.
func (s *Server) handleOverviewSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := overview.SummaryRequest{
		Keywords: q.Get("keywords"),
		CPC:      overview.SplitCPCList(q.Get("cpc")),
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
	}

	for _, name := range []string{"date_from", "date_to"} {
		if raw := q.Get(name); raw != "" {
			if _, err := time.Parse("2006-01-02", raw); err != nil {
				s.writeHTTPError(w, http.StatusBadRequest,
					fmt.Sprintf("%s must be an ISO date (YYYY-MM-DD)", name))
				return
			}
		}
	}
	if raw := q.Get("semantic"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeHTTPError(w, http.StatusBadRequest, "semantic must be a boolean")
			return
		}
		req.Semantic = v
	}
	if raw := q.Get("tau"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeHTTPError(w, http.StatusBadRequest, "tau must be a number")
			return
		}
		req.Tau = &v
	}
	if raw := q.Get("semantic_limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.writeHTTPError(w, http.StatusBadRequest, "semantic_limit must be an integer")
			return
		}
		req.SemanticLimit = v
	}

	summary, err := s.summarizer.Build(r.Context(), &req)
	if err != nil {
		s.writeOverviewError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, summary)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, found := s.taskManager.GetTask(r.PathValue("id"))
	if !found {
		s.writeHTTPError(w, http.StatusNotFound, "Task not found")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, task.View())
}

// ingestStatusResponse extends the corpus counts with the state of the
// vectorizer workers.
type ingestStatusResponse struct {
	Patents   int                `json:"patents"`
	Assignees int                `json:"assignees"`
	Models    []store.ModelCount `json:"models"`
	Workers   []VectorizerStatus `json:"workers,omitempty"`
}

// handleVectorizerTrigger kicks off one worker's embedding pass immediately
// instead of waiting for its next tick.
func (s *Server) handleVectorizerTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.vectorizerService.Trigger(name); err != nil {
		s.writeHTTPError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusAccepted, map[string]string{
		"status": "triggered",
		"name":   name,
	})
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Status(r.Context())
	if err != nil {
		s.writeOverviewError(w, err)
		return
	}

	resp := ingestStatusResponse{
		Patents:   status.Patents,
		Assignees: status.Assignees,
		Models:    status.Models,
	}
	if s.vectorizerService != nil {
		resp.Workers = s.vectorizerService.GetStatuses()
	}
	s.writeHTTPResponse(w, http.StatusOK, resp)
}

// writeOverviewError maps engine and summarizer failures onto HTTP statuses.
// Validation and empty-scope problems are the client's to fix; transient
// store errors invite a retry; schema and permission errors need an
// operator.
func (s *Server) writeOverviewError(w http.ResponseWriter, err error) {
	var (
		valErr    *overview.ValidationError
		noDataErr *overview.NoDataError
		nfErr     *overview.NotFoundError
		schemaErr *overview.SchemaError
		permErr   *overview.PermissionError
	)
	switch {
	case errors.As(err, &valErr):
		s.writeHTTPError(w, http.StatusBadRequest, valErr.Error())
	case errors.As(err, &noDataErr):
		s.writeHTTPError(w, http.StatusBadRequest, noDataErr.Reason)
	case errors.As(err, &nfErr):
		s.writeHTTPError(w, http.StatusNotFound, nfErr.Reason)
	case overview.IsTransient(err):
		s.writeHTTPError(w, http.StatusServiceUnavailable,
			"Temporary database connectivity issue. Please retry your request.")
	case errors.As(err, &schemaErr):
		s.writeHTTPError(w, http.StatusInternalServerError,
			"Database schema is missing required tables for the overview engine.")
	case errors.As(err, &permErr):
		s.writeHTTPError(w, http.StatusInternalServerError,
			"Database permissions prevent reading the patent corpus.")
	default:
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- HTTP response helpers ---

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}
