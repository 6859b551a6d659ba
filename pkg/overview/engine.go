package overview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sanonone/lacuna/pkg/cluster"
	"github.com/sanonone/lacuna/pkg/layout"
	"github.com/sanonone/lacuna/pkg/metrics"
	"github.com/sanonone/lacuna/pkg/stats"
	"github.com/sanonone/lacuna/pkg/vecmath"
)

// maxStoreAttempts bounds retries against a store reporting transient
// failures, on the read path and the write-back path alike. The delay after
// attempt n is min(n*100ms, 1s).
const maxStoreAttempts = 5

// Strategy names accepted by Config.
const (
	ClusterModularity       = "modularity"
	ClusterThreshold        = "threshold"
	LayoutNeighborEmbedding = "neighbor-embedding"
	LayoutPCA               = "pca"
)

// Config tunes strategy selection and the preferred embedding model. Zero
// values select the primary strategies.
type Config struct {
	PreferredModel  string
	ClusterStrategy string // ClusterModularity (default) or ClusterThreshold
	LayoutStrategy  string // LayoutNeighborEmbedding (default) or LayoutPCA
}

// Engine runs the whitespace overview pipeline end to end: candidate fetch,
// KNN graph, community labels, cluster momentum, whitespace scores, 2D
// layout, group signals and response assembly. It holds no mutable state
// across requests; every build works on its own dense arrays.
type Engine struct {
	source Source
	dir    AssigneeDirectory
	sink   Sink
	logger *slog.Logger
	cfg    Config
}

// NewEngine wires the pipeline against its data source. dir may be nil when
// assignee search is not served; sink may be nil to disable write-back.
func NewEngine(source Source, dir AssigneeDirectory, sink Sink, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{source: source, dir: dir, sink: sink, cfg: cfg, logger: logger}
}

// BuildGraph executes one full overview build. The returned OverviewUpdate
// carries the artifacts for Persist; the caller decides whether and when to
// write them back, normally after the response has shipped.
func (e *Engine) BuildGraph(ctx context.Context, req *GraphRequest) (*Response, *OverviewUpdate, error) {
	resp, upd, err := e.buildGraph(ctx, req)
	metrics.GraphBuildsTotal.WithLabelValues(buildOutcome(err)).Inc()
	return resp, upd, err
}

func (e *Engine) buildGraph(ctx context.Context, req *GraphRequest) (*Response, *OverviewUpdate, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	started := time.Now()

	stage := time.Now()
	fr, err := e.fetchWithRetry(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	observeStage("fetch", stage)

	cands := fr.candidates
	n := len(cands)
	if n < 2 {
		return nil, nil, &NoDataError{Reason: "Not enough embeddings to build overview graph."}
	}
	if req.Neighbors >= n {
		return nil, nil, &ValidationError{Violations: []string{
			fmt.Sprintf("neighbors must be less than the number of embeddings (%d)", n),
		}}
	}
	// PCA ignores the neighbor knob, so the bound only applies when the
	// neighbor embedding actually runs.
	if req.Layout && req.LayoutNeighbors >= n {
		return nil, nil, &ValidationError{Violations: []string{
			fmt.Sprintf("layout_neighbors must be less than the number of embeddings (%d)", n),
		}}
	}

	rows := make([][]float32, n)
	focus := make([]bool, n)
	dates := make([]time.Time, n)
	ids := make([]string, n)
	for i, c := range cands {
		rows[i] = append([]float32(nil), c.Vector...)
		focus[i] = c.IsFocus
		dates[i] = c.Date
		ids[i] = c.ID
	}
	vecmath.NormalizeRows(rows)

	stage = time.Now()
	nb, err := vecmath.KNNCosine(rows, req.Neighbors)
	if err != nil {
		return nil, nil, fmt.Errorf("knn: %w", err)
	}
	observeStage("knn", stage)

	stage = time.Now()
	labels, err := e.labelerFor(req.Resolution).Label(nb)
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: %w", err)
	}
	observeStage("cluster", stage)

	density := vecmath.LocalDensity(nb)
	momentum := ClusterMomentum(dates, labels)

	stage = time.Now()
	m, err := ComputeMetrics(rows, labels, density, focus, req.Alpha, req.Beta, momentum)
	if err != nil {
		return nil, nil, err
	}
	observeStage("score", stage)

	stage = time.Now()
	coords, err := e.layoutFor(req).Coordinates(rows)
	if err != nil {
		e.logger.Warn("layout projection failed, falling back to PCA", "error", err)
		coords, err = layout.PCA{}.Coordinates(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("layout: %w", err)
		}
	}
	observeStage("layout", stage)

	nodes := buildNodeData(cands, labels, m, density, momentum)

	var clusterTerms map[int][]string
	if fr.groupMode == GroupByCluster {
		clusterTerms = ComputeClusterTerms(nodes)
	}
	scopeText := scopeTextFor(req, fr.groupMode, fr.matchedLabels())

	stage = time.Now()
	groups, ann := buildGroupSignals(req, nodes, labels, nb, momentum, scopeText, fr.groupMode, clusterTerms)
	observeStage("groups", stage)

	if len(groups) == 0 && len(nodes) > 0 {
		groups = []GroupSignals{syntheticGroup(nodes[0], fr.groupMode, scopeText)}
	}

	graphNodes := make([]GraphNode, n)
	for i, nd := range nodes {
		relevance := ann.relevanceFor(nd.ID)
		if relevance <= 0 {
			relevance = 0.15
		}
		gn := GraphNode{
			ID:            nd.ID,
			ClusterID:     nd.ClusterID,
			Assignee:      nd.Assignee,
			X:             float64(coords[i][0]),
			Y:             float64(coords[i][1]),
			Signals:       ann.kindsFor(nd.ID),
			Relevance:     stats.Clip(relevance, 0.05, 1.0),
			Title:         nd.Title,
			Tooltip:       ann.tooltipFor(nd.ID),
			OverviewScore: nd.Score,
			LocalDensity:  nd.Density,
			Abstract:      nd.Abstract,
		}
		if !nd.Date.IsZero() {
			gn.PubDate = nd.Date.Format("2006-01-02")
		}
		graphNodes[i] = gn
	}

	// At most 10 edges per node, self excluded at position 0.
	edges := make([]GraphEdge, 0, n*(maxEdgesPerNode))
	for i := range nodes {
		row := nb.Idx[i]
		hi := len(row)
		if hi > maxEdgesPerNode+1 {
			hi = maxEdgesPerNode + 1
		}
		for pos := 1; pos < hi; pos++ {
			if int(row[pos]) == i {
				continue
			}
			edges = append(edges, GraphEdge{
				Source: nodes[i].ID,
				Target: nodes[row[pos]].ID,
				Weight: float64(1 - nb.Dist[i][pos]),
			})
		}
	}

	var debug map[string]any
	if req.Debug {
		focusCount := 0
		for _, f := range focus {
			if f {
				focusCount++
			}
		}
		debug = map[string]any{
			"focus_mask_count":  focusCount,
			"total_nodes":       len(graphNodes),
			"alpha":             req.Alpha,
			"beta":              req.Beta,
			"focus_vector_norm": vecmath.Norm(m.FocusVector),
		}
		if len(fr.matched) > 0 {
			ma := make([]map[string]any, len(fr.matched))
			for i, mt := range fr.matched {
				ma[i] = map[string]any{"name": mt.Name, "score": mt.Score}
			}
			debug["matched_assignees"] = ma
		}
	}

	resp := &Response{
		K:                scopeText,
		Assignees:        groups,
		Graph:            &GraphContext{Nodes: graphNodes, Edges: edges},
		Debug:            debug,
		GroupMode:        fr.groupMode,
		MatchedAssignees: fr.matchedLabels(),
	}
	upd := &OverviewUpdate{
		Model:     fr.model,
		IDs:       ids,
		Neighbors: nb,
		Labels:    labels,
		Density:   density,
		Scores:    m.Score,
	}

	metrics.GraphNodes.Observe(float64(n))
	e.logger.Info("overview graph built",
		"model", fr.model,
		"nodes", n,
		"edges", len(edges),
		"clusters", clusterCount(labels),
		"groups", len(groups),
		"group_mode", string(fr.groupMode),
		"elapsed", time.Since(started))
	return resp, upd, nil
}

const maxEdgesPerNode = 10

// fetchResult is the outcome of the store-facing phase of a build.
type fetchResult struct {
	model      string
	candidates []Candidate
	groupMode  GroupKind
	matched    []CanonicalMatch
}

func (fr *fetchResult) matchedLabels() []string {
	if len(fr.matched) == 0 {
		return nil
	}
	out := make([]string, len(fr.matched))
	for i, m := range fr.matched {
		out[i] = m.Name
	}
	return out
}

// fetch runs one attempt of the store phase: model selection, optional
// assignee resolution and the two-tier candidate pull.
func (e *Engine) fetch(ctx context.Context, req *GraphRequest) (*fetchResult, error) {
	model, err := e.source.PickModel(ctx, e.cfg.PreferredModel)
	if err != nil {
		return nil, err
	}
	fr := &fetchResult{model: model, groupMode: GroupByAssignee}

	var assigneeIDs []string
	if req.SearchMode == SearchAssignee {
		fr.groupMode = GroupByCluster
		if e.dir == nil {
			return nil, &ValidationError{Violations: []string{"assignee search is not configured"}}
		}
		matches, err := MatchCanonical(ctx, e.dir, req.AssigneeQuery)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, &NotFoundError{Reason: "No canonical assignee matches found above the similarity threshold."}
		}
		fr.matched = matches
		assigneeIDs = make([]string, len(matches))
		for i, m := range matches {
			assigneeIDs[i] = m.ID
		}
	}

	rows, err := BuildCandidates(ctx, e.source, model, req, assigneeIDs)
	if err != nil {
		return nil, err
	}
	fr.candidates = rows
	return fr, nil
}

// fetchWithRetry retries the store phase on transient failures. Non-transient
// errors (validation, no data, missing schema, privileges) pass through on
// the first occurrence.
func (e *Engine) fetchWithRetry(ctx context.Context, req *GraphRequest) (*fetchResult, error) {
	for attempt := 1; ; attempt++ {
		fr, err := e.fetch(ctx, req)
		if err == nil {
			return fr, nil
		}
		if !IsTransient(err) || attempt >= maxStoreAttempts {
			return nil, err
		}
		e.logger.Warn("recoverable store error while building overview graph",
			"attempt", attempt, "max_attempts", maxStoreAttempts, "error", err)
		if err := sleepCtx(ctx, retryDelay(attempt)); err != nil {
			return nil, err
		}
	}
}

func (e *Engine) labelerFor(resolution float64) cluster.Labeler {
	if e.cfg.ClusterStrategy == ClusterThreshold {
		return cluster.NewThreshold()
	}
	return cluster.NewModularity(resolution)
}

func (e *Engine) layoutFor(req *GraphRequest) layout.Strategy {
	if !req.Layout || e.cfg.LayoutStrategy == LayoutPCA {
		return layout.PCA{}
	}
	return layout.NewNeighborEmbedding(req.LayoutNeighbors, req.LayoutMinDist)
}

// buildNodeData combines the raw pipeline arrays into the per-node view the
// aggregator and the renderer consume.
func buildNodeData(cands []Candidate, labels []int32, m *Metrics, density, momentum []float32) []NodeDatum {
	nodes := make([]NodeDatum, len(cands))
	for i, c := range cands {
		cid := int(labels[i])
		var mom float64
		if cid >= 0 && cid < len(momentum) {
			mom = float64(momentum[cid])
		}
		nodes[i] = NodeDatum{
			Index:     i,
			ID:        c.ID,
			Assignee:  NormalizeAssignee(c.Assignee),
			Date:      c.Date,
			ClusterID: cid,
			Score:     float64(m.Score[i]),
			Density:   float64(density[i]),
			Proximity: float64(m.Proximity[i]),
			Distance:  float64(m.Distance[i]),
			Momentum:  mom,
			IsFocus:   c.IsFocus,
			Title:     c.Title,
			Abstract:  c.Abstract,
		}
	}
	return nodes
}

// scopeTextFor renders the human-readable scope line shown with every group.
func scopeTextFor(req *GraphRequest, mode GroupKind, matched []string) string {
	if mode == GroupByCluster {
		if len(matched) > 0 {
			shown := matched
			if len(shown) > 6 {
				shown = shown[:6]
			}
			text := "Matched assignees: " + strings.Join(shown, ", ")
			if remaining := len(matched) - len(shown); remaining > 0 {
				text += fmt.Sprintf(" (+%d more)", remaining)
			}
			return text
		}
		if req.AssigneeQuery != "" {
			return "Assignee scope: " + req.AssigneeQuery
		}
		return "Assignee scope: Selected scope"
	}
	if s := strings.Join(req.FocusKeywords, ", "); s != "" {
		return s
	}
	if s := strings.Join(req.FocusCPCLike, ", "); s != "" {
		return s
	}
	return "Selected scope"
}

// syntheticGroup keeps the response shape intact when every real group was
// dropped for lack of usable members.
func syntheticGroup(first NodeDatum, mode GroupKind, scopeText string) GroupSignals {
	signals := make([]SignalPayload, 0, len(signalOrder))
	for _, kind := range signalOrder {
		signals = append(signals, SignalPayload{
			Type:    kind,
			Status:  StatusNone,
			Why:     "No signal detected for this scope.",
			NodeIDs: []string{},
		})
	}
	g := GroupSignals{
		K:         scopeText,
		Signals:   signals,
		GroupKind: mode,
	}
	if mode == GroupByCluster {
		g.Assignee = fmt.Sprintf("Cluster %d", first.ClusterID)
		cid := first.ClusterID
		g.ClusterID = &cid
	} else {
		g.Assignee = first.Assignee
	}
	return g
}

func clusterCount(labels []int32) int {
	max := int32(-1)
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	return int(max) + 1
}

func buildOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		ve  *ValidationError
		nde *NoDataError
		nfe *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &nde):
		return "no_data"
	case errors.As(err, &nfe):
		return "not_found"
	case IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

func observeStage(stage string, started time.Time) {
	metrics.GraphStageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

// retryDelay is the linear store backoff, capped at one second.
func retryDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 100 * time.Millisecond
	if d > time.Second {
		d = time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
