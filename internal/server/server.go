package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sanonone/lacuna/internal/store"
	"github.com/sanonone/lacuna/pkg/overview"
	"github.com/sanonone/lacuna/pkg/persistence"
)

// Server ties the HTTP interface to the store, the overview engine and the
// background workers.
type Server struct {
	store      *store.Store
	engine     *overview.Engine
	summarizer *overview.Summarizer

	httpServer *http.Server

	taskManager       *TaskManager
	vectorizerService *VectorizerService
	journal           *persistence.Journal
	authToken         string
	logger            *slog.Logger
}

// NewServer opens the store and wires the overview pipeline, the scope
// summarizer, the persist journal and the vectorizer workers from cfg.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(store.Options{
		Path:           cfg.Store.Path,
		CacheDir:       cfg.Store.CacheDir,
		CachePrecision: cfg.Store.CachePrecision,
		PreferredModel: cfg.Engine.PreferredModel,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	engine := overview.NewEngine(st, st, st, overview.Config{
		PreferredModel:  cfg.Engine.PreferredModel,
		ClusterStrategy: cfg.Engine.ClusterStrategy,
		LayoutStrategy:  cfg.Engine.LayoutStrategy,
	}, logger)

	queryEmbedder, err := cfg.Embedder.NewEmbedder()
	if err != nil {
		st.Close()
		return nil, err
	}
	if queryEmbedder == nil {
		logger.Info("no query embedder configured, semantic scope expansion disabled")
	}

	s := &Server{
		store:       st,
		engine:      engine,
		summarizer:  overview.NewSummarizer(st, queryEmbedder, logger),
		taskManager: NewTaskManager(),
		authToken:   cfg.Server.AuthToken,
		logger:      logger,
	}

	if cfg.Journal.Path != "" {
		if err := s.openJournal(cfg.Journal.Path); err != nil {
			st.Close()
			return nil, err
		}
	}

	s.vectorizerService = NewVectorizerService(s, cfg.Vectorizers)

	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Chain middlewares: Recovery -> Logging -> Auth -> Mux
	// Order matters! Recovery must be outer-most to catch everything.
	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	// Health and metrics stay outside the chain so probes and scrapers work
	// without a token.
	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", metricsHandler())
	rootMux.Handle("/", handler)
	s.httpServer = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: rootMux,
	}

	return s, nil
}

// openJournal replays the persist journal and reopens it for appending. The
// replay is only reported; the database rows it describes are already there.
func (s *Server) openJournal(path string) error {
	replay, err := persistence.Load(path)
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	if len(replay.Records) > 0 || replay.CorruptTail {
		s.logger.Info("overview journal replayed",
			"path", path,
			"records", len(replay.Records),
			"last_persist", replay.LastWritten(),
			"corrupt_tail", replay.CorruptTail,
		)
	}

	journal, err := persistence.NewJournal(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	s.journal = journal
	return nil
}

// Run starts the vectorizer workers and the HTTP listener. It blocks until
// the listener stops.
func (s *Server) Run() error {
	if s.vectorizerService != nil {
		s.vectorizerService.Start()
	}

	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP listener, the workers, the journal and the store.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown of HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.vectorizerService != nil {
		s.vectorizerService.Stop()
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Error("journal close error", "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
	}
}
