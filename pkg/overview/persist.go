package overview

import (
	"context"

	"github.com/sanonone/lacuna/pkg/metrics"
	"github.com/sanonone/lacuna/pkg/vecmath"
)

// OverviewUpdate is one build's write-back payload: the KNN neighborhood of
// every node plus its cluster assignment and scores, keyed by embedding
// model. Sinks derive edges from Neighbors with the self column skipped and
// weight 1 - dist.
type OverviewUpdate struct {
	Model     string
	IDs       []string
	Neighbors *vecmath.Neighbors
	Labels    []int32
	Density   []float32
	Scores    []float32
}

// Sink stores build artifacts after the response has shipped.
type Sink interface {
	PersistOverview(ctx context.Context, upd *OverviewUpdate) error
}

// Persist writes one build's artifacts through the sink, retrying transient
// failures with the same linear backoff as the read path. Non-transient
// failures (missing schema, revoked privileges) are logged and abandoned on
// first sight: the response has already shipped, so there is nobody left to
// tell. The terminal error is returned for task bookkeeping only.
func (e *Engine) Persist(ctx context.Context, upd *OverviewUpdate) error {
	if e.sink == nil || upd == nil {
		return nil
	}
	var last error
	for attempt := 1; attempt <= maxStoreAttempts; attempt++ {
		err := e.sink.PersistOverview(ctx, upd)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("overview persist recovered", "attempt", attempt)
			}
			return nil
		}
		if !IsTransient(err) {
			e.logger.Error("failed to persist overview metrics", "error", err)
			metrics.PersistFailuresTotal.WithLabelValues("fatal").Inc()
			return err
		}
		last = err
		metrics.PersistRetriesTotal.Inc()
		e.logger.Warn("recoverable store error while persisting overview metrics",
			"attempt", attempt, "max_attempts", maxStoreAttempts, "error", err)
		if attempt < maxStoreAttempts {
			if err := sleepCtx(ctx, retryDelay(attempt)); err != nil {
				return err
			}
		}
	}
	e.logger.Error("exhausted retries while persisting overview metrics", "error", last)
	metrics.PersistFailuresTotal.WithLabelValues("exhausted").Inc()
	return last
}
