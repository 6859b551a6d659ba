package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanonone/lacuna/pkg/embeddings"
	"github.com/sanonone/lacuna/pkg/metrics"
)

// defaultVectorizerBatch bounds how many pending documents one pass embeds.
const defaultVectorizerBatch = 64

// Vectorizer is a background worker that embeds stored patents still missing
// a vector for its model. Each pass takes one batch, so a slow embedding
// backend never blocks shutdown for long; documents left over are picked up
// on the next tick.
type Vectorizer struct {
	config   VectorizerConfig
	model    string
	batch    int
	server   *Server
	embedder embeddings.Embedder

	ticker *time.Ticker
	stopCh chan struct{}
	wg     *sync.WaitGroup

	currentState atomic.Value // string
	lastRun      atomic.Int64 // unix nanos, 0 = never ran
}

// NewVectorizer builds a worker from its configuration. The worker is not
// running yet; the service starts it.
func NewVectorizer(config VectorizerConfig, server *Server, wg *sync.WaitGroup) (*Vectorizer, error) {
	schedule, err := time.ParseDuration(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule format for vectorizer '%s': %w", config.Name, err)
	}

	embedder, err := config.Embedder.NewEmbedder()
	if err != nil {
		return nil, fmt.Errorf("vectorizer '%s': %w", config.Name, err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("vectorizer '%s' has no embedder configured", config.Name)
	}

	// The storage model name defaults to the embedder's model.
	model := config.Model
	if model == "" {
		model = config.Embedder.Model
	}
	if model == "" {
		return nil, fmt.Errorf("vectorizer '%s' has no model name", config.Name)
	}

	batch := config.BatchSize
	if batch <= 0 {
		batch = defaultVectorizerBatch
	}

	vec := &Vectorizer{
		config:   config,
		model:    model,
		batch:    batch,
		server:   server,
		embedder: embedder,
		ticker:   time.NewTicker(schedule),
		stopCh:   make(chan struct{}),
		wg:       wg,
	}
	vec.currentState.Store("idle")

	server.logger.Info("vectorizer initialized",
		"name", config.Name, "model", model, "schedule", config.Schedule)
	return vec, nil
}

// run is the worker loop: one pass at startup, then one per tick until the
// stop signal arrives.
func (v *Vectorizer) run() {
	defer v.wg.Done()
	defer v.server.logger.Info("vectorizer stopped", "name", v.config.Name)

	v.pass()
	for {
		select {
		case <-v.ticker.C:
			v.pass()
		case <-v.stopCh:
			v.ticker.Stop()
			return
		}
	}
}

func (v *Vectorizer) pass() {
	v.currentState.Store("synchronizing")
	v.synchronize(context.Background())
	v.lastRun.Store(time.Now().UnixNano())
	v.currentState.Store("idle")
}

// synchronize embeds one batch of pending documents and stores the vectors.
// A document that fails is logged and retried on a later pass, because
// PendingEmbeddings keeps returning it until a vector lands.
func (v *Vectorizer) synchronize(ctx context.Context) {
	pending, err := v.server.store.PendingEmbeddings(ctx, v.model, v.batch)
	if err != nil {
		v.server.logger.Error("vectorizer could not list pending documents",
			"name", v.config.Name, "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	var successful, failed int
	for _, doc := range pending {
		vec, err := v.embedder.Embed(embedText(doc.Title, doc.Abstract))
		if err != nil {
			v.server.logger.Warn("vectorizer embed failed",
				"name", v.config.Name, "patent", doc.ID, "error", err)
			failed++
			continue
		}
		if err := v.server.store.PutEmbedding(ctx, doc.ID, v.model, vec); err != nil {
			v.server.logger.Warn("vectorizer store failed",
				"name", v.config.Name, "patent", doc.ID, "error", err)
			failed++
			continue
		}
		metrics.VectorizedTotal.WithLabelValues(v.config.Name).Inc()
		successful++
	}

	v.server.logger.Info("vectorizer pass complete",
		"name", v.config.Name, "model", v.model,
		"embedded", successful, "failed", failed)
}

// Stop signals the worker loop to exit.
func (v *Vectorizer) Stop() {
	close(v.stopCh)
}

// GetStatus snapshots the worker state for the status endpoint.
func (v *Vectorizer) GetStatus() VectorizerStatus {
	status := VectorizerStatus{
		Name:         v.config.Name,
		Model:        v.model,
		IsRunning:    true,
		CurrentState: v.currentState.Load().(string),
	}
	if nanos := v.lastRun.Load(); nanos > 0 {
		status.LastRun = time.Unix(0, nanos).UTC()
	}
	return status
}

// embedText joins title and abstract the same way for every model, so stored
// vectors stay comparable with query-time embeddings of the same text.
func embedText(title, abstract string) string {
	title = strings.TrimSpace(title)
	abstract = strings.TrimSpace(abstract)
	switch {
	case title == "":
		return abstract
	case abstract == "":
		return title
	default:
		return title + ". " + abstract
	}
}
