package overview

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sanonone/lacuna/pkg/stats"
)

// Scope summary limits and guardrails. The semantic neighborhood only widens
// a scope while neighbors stay close: the distance cap is the first hit's
// distance plus semanticSpread (never above semanticDistCap, never above the
// caller's tau), and a gap larger than semanticJump between consecutive
// neighbors cuts the tail off.
const (
	DefaultSemanticLimit = 500
	MaxSemanticLimit     = 5000

	semanticSpread  = 0.35
	semanticDistCap = 0.9
	semanticJump    = 0.1

	trendEpsilon     = 0.05
	topCPCCount      = 5
	maxCPCBreakdown  = 15
	summaryWindowMon = 24
)

// TrendBucket is the coarse direction of the monthly filing trend.
type TrendBucket string

const (
	TrendUp   TrendBucket = "Up"
	TrendFlat TrendBucket = "Flat"
	TrendDown TrendBucket = "Down"
)

// SummaryRequest mirrors the scope summary query parameters. Zero DateTo
// means today; zero DateFrom means summaryWindowMon months back from the
// end month. Tau is an optional cosine-distance ceiling for the semantic
// neighborhood.
type SummaryRequest struct {
	Keywords      string
	CPC           []string
	DateFrom      string
	DateTo        string
	Semantic      bool
	Tau           *float64
	SemanticLimit int
}

// TimelinePoint is one month of scope activity.
type TimelinePoint struct {
	Month            string `json:"month"` // YYYY-MM
	Count            int    `json:"count"`
	TopAssignee      string `json:"top_assignee,omitempty"`
	TopAssigneeCount int    `json:"top_assignee_count,omitempty"`
}

// CPCCount is one CPC code with its occurrence count inside the scope.
type CPCCount struct {
	CPC   string `json:"cpc"`
	Count int    `json:"count"`
}

// CrowdingMetrics counts the scope population.
type CrowdingMetrics struct {
	Exact           int      `json:"exact"`
	Semantic        int      `json:"semantic"`
	Total           int      `json:"total"`
	DensityPerMonth float64  `json:"density_per_month"`
	Percentile      *float64 `json:"percentile,omitempty"`
}

// DensityMetrics summarizes the monthly filing counts.
type DensityMetrics struct {
	MeanPerMonth float64 `json:"mean_per_month"`
	MinPerMonth  int     `json:"min_per_month"`
	MaxPerMonth  int     `json:"max_per_month"`
}

// MomentumMetrics is the fitted trend over the monthly timeline.
type MomentumMetrics struct {
	Slope  float64         `json:"slope"`
	CAGR   *float64        `json:"cagr,omitempty"`
	Bucket TrendBucket     `json:"bucket"`
	Series []TimelinePoint `json:"series"`
}

// RecencyMetrics sums filings over trailing month windows.
type RecencyMetrics struct {
	M6  int `json:"m6"`
	M12 int `json:"m12"`
	M24 int `json:"m24"`
}

// ScopeSummary is the full summary response.
type ScopeSummary struct {
	Crowding     CrowdingMetrics `json:"crowding"`
	Density      DensityMetrics  `json:"density"`
	Momentum     MomentumMetrics `json:"momentum"`
	TopCPCs      []CPCCount      `json:"top_cpcs"`
	CPCBreakdown []CPCCount      `json:"cpc_breakdown"`
	Recency      RecencyMetrics  `json:"recency"`
	Timeline     []TimelinePoint `json:"timeline"`
	WindowMonths int             `json:"window_months"`
}

// ScopeQuery is the resolved filter a summary runs over. DateTo is inclusive
// here, unlike the graph path's exclusive bound. SemanticIDs extend the
// keyword hits with the guardrail-filtered semantic neighborhood.
type ScopeQuery struct {
	Keywords    string
	CPCPrefixes []string
	DateFrom    time.Time
	DateTo      time.Time
	SemanticIDs []string
}

// SemanticNeighbor is one scope-filtered semantic hit, ascending by cosine
// distance to the query vector.
type SemanticNeighbor struct {
	ID       string
	Distance float64
}

// ScopeStats is the store's aggregation of one resolved scope.
type ScopeStats struct {
	Exact     int // keyword hits
	Semantic  int // distinct semantic ids included
	Total     int // union of both
	Timeline  []TimelinePoint
	CPCRollup []CPCCount // count descending, at most maxCPCBreakdown
}

// SummarySource supplies the scope summary data.
type SummarySource interface {
	// SemanticNeighbors returns the closest embedded rows to vec inside the
	// scope's date/CPC filter, ascending by distance, at most limit rows.
	SemanticNeighbors(ctx context.Context, q ScopeQuery, vec []float32, limit int) ([]SemanticNeighbor, error)
	// AggregateScope resolves keyword hits and semantic ids into counts,
	// the monthly timeline with top assignee, and the CPC rollup.
	AggregateScope(ctx context.Context, q ScopeQuery) (*ScopeStats, error)
	// CrowdingPercentile maps a total count onto the precomputed crowding
	// ladder; ok=false when the ladder is not available.
	CrowdingPercentile(ctx context.Context, total int) (float64, bool, error)
}

// Embedder produces the query vector for semantic scope expansion.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Summarizer builds scope summaries. It is independent of the graph engine
// and holds no state across requests.
type Summarizer struct {
	source   SummarySource
	embedder Embedder
	logger   *slog.Logger
}

// NewSummarizer wires the summary path. embedder may be nil; semantic
// expansion is then skipped even when requested.
func NewSummarizer(source SummarySource, embedder Embedder, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{source: source, embedder: embedder, logger: logger}
}

// Build assembles the scope summary: crowding counts, monthly density,
// fitted momentum, CPC rollup and trailing recency windows.
func (s *Summarizer) Build(ctx context.Context, req *SummaryRequest) (*ScopeSummary, error) {
	keywords := strings.TrimSpace(req.Keywords)

	end := parseISODate(req.DateTo)
	if end.IsZero() {
		end = todayUTC()
	}
	start := parseISODate(req.DateFrom)
	if start.IsZero() {
		start = shiftMonths(monthFloor(end), -(summaryWindowMon - 1))
	}
	if start.After(end) {
		return nil, &ValidationError{Violations: []string{"date_from cannot be after date_to"}}
	}

	limit := req.SemanticLimit
	if limit <= 0 {
		limit = DefaultSemanticLimit
	}
	if limit > MaxSemanticLimit {
		limit = MaxSemanticLimit
	}

	scope := ScopeQuery{
		Keywords:    keywords,
		CPCPrefixes: req.CPC,
		DateFrom:    start,
		DateTo:      end,
	}

	if req.Semantic && keywords != "" && s.embedder != nil {
		vec, err := s.embedder.Embed(keywords)
		if err != nil {
			s.logger.Error("failed to embed semantic query for scope summary", "error", err)
			return nil, fmt.Errorf("compute semantic neighborhood: %w", err)
		}
		neighbors, err := s.source.SemanticNeighbors(ctx, scope, vec, limit)
		if err != nil {
			return nil, err
		}
		kept, capDist := filterSemanticIDs(neighbors, limit, req.Tau)
		if len(neighbors) > 0 {
			s.logger.Debug("semantic neighbors filtered",
				"kept", len(kept), "fetched", len(neighbors), "limit", limit, "cap", capDist)
		}
		scope.SemanticIDs = kept
	}

	agg, err := s.source.AggregateScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	timeline := agg.Timeline
	density := DensityMetrics{}
	if len(timeline) > 0 {
		counts := make([]float64, len(timeline))
		minC, maxC := timeline[0].Count, timeline[0].Count
		for i, pt := range timeline {
			counts[i] = float64(pt.Count)
			if pt.Count < minC {
				minC = pt.Count
			}
			if pt.Count > maxC {
				maxC = pt.Count
			}
		}
		density = DensityMetrics{
			MeanPerMonth: stats.Mean(counts),
			MinPerMonth:  minC,
			MaxPerMonth:  maxC,
		}
	}

	windowMonths := monthsBetween(monthFloor(start), monthFloor(end))
	if windowMonths < 1 {
		windowMonths = 1
	}
	densityPerMonth := float64(agg.Total) / float64(windowMonths)

	slope, cagr, bucket := computeTimelineMomentum(timeline)

	endMonth := monthFloor(end)
	recency := RecencyMetrics{
		M6:  sumRecentMonths(timeline, endMonth, 6),
		M12: sumRecentMonths(timeline, endMonth, 12),
		M24: sumRecentMonths(timeline, endMonth, 24),
	}

	var pct *float64
	if p, ok, err := s.source.CrowdingPercentile(ctx, agg.Total); err != nil {
		s.logger.Warn("crowding percentile lookup failed", "error", err)
	} else if ok {
		pct = &p
	}

	breakdown := agg.CPCRollup
	if len(breakdown) > maxCPCBreakdown {
		breakdown = breakdown[:maxCPCBreakdown]
	}
	top := breakdown
	if len(top) > topCPCCount {
		top = top[:topCPCCount]
	}

	return &ScopeSummary{
		Crowding: CrowdingMetrics{
			Exact:           agg.Exact,
			Semantic:        agg.Semantic,
			Total:           agg.Total,
			DensityPerMonth: densityPerMonth,
			Percentile:      pct,
		},
		Density: density,
		Momentum: MomentumMetrics{
			Slope:  slope,
			CAGR:   cagr,
			Bucket: bucket,
			Series: timeline,
		},
		TopCPCs:      top,
		CPCBreakdown: breakdown,
		Recency:      recency,
		Timeline:     timeline,
		WindowMonths: windowMonths,
	}, nil
}

// filterSemanticIDs applies the distance guardrails to ranked neighbors and
// returns the kept ids plus the effective cap (for logging).
func filterSemanticIDs(rows []SemanticNeighbor, limit int, tau *float64) ([]string, float64) {
	if len(rows) == 0 {
		return nil, 0
	}
	capDist := rows[0].Distance + semanticSpread
	if capDist > semanticDistCap {
		capDist = semanticDistCap
	}
	if tau != nil && *tau < capDist {
		capDist = *tau
	}

	keep := make([]string, 0, limit)
	seen := make(map[string]struct{}, limit)
	prev := rows[0].Distance
	for _, row := range rows {
		if row.ID == "" {
			continue
		}
		if _, dup := seen[row.ID]; dup {
			continue
		}
		if row.Distance > capDist {
			break
		}
		if len(keep) > 0 && row.Distance-prev > semanticJump {
			break
		}
		keep = append(keep, row.ID)
		seen[row.ID] = struct{}{}
		prev = row.Distance
		if len(keep) >= limit {
			break
		}
	}
	return keep, capDist
}

// computeTimelineMomentum fits the monthly counts over their index axis and
// normalizes the slope by the mean count, so a scope filing 10/month and one
// filing 1000/month bucket on the same scale. CAGR is per month.
func computeTimelineMomentum(series []TimelinePoint) (float64, *float64, TrendBucket) {
	if len(series) < 2 {
		return 0, nil, TrendFlat
	}
	counts := make([]float64, len(series))
	for i, pt := range series {
		counts[i] = float64(pt.Count)
	}
	raw := stats.OLSSlope(counts)
	mean := stats.Mean(counts)
	if mean < 1 {
		mean = 1
	}
	slope := raw / mean

	base := counts[0]
	if base < 1 {
		base = 1
	}
	steps := float64(len(series) - 1)
	c := math.Pow(counts[len(counts)-1]/base, 1/steps) - 1

	var bucket TrendBucket
	switch {
	case slope > trendEpsilon:
		bucket = TrendUp
	case slope < -trendEpsilon:
		bucket = TrendDown
	default:
		bucket = TrendFlat
	}
	return slope, &c, bucket
}

// sumRecentMonths totals timeline counts from span months before endMonth
// (inclusive) onward.
func sumRecentMonths(points []TimelinePoint, endMonth time.Time, span int) int {
	cutoff := shiftMonths(endMonth, -(span - 1))
	total := 0
	for _, pt := range points {
		d, err := time.Parse("2006-01", pt.Month)
		if err != nil {
			continue
		}
		if !d.Before(cutoff) {
			total += pt.Count
		}
	}
	return total
}

// SplitCPCList normalizes a comma-separated CPC filter: entries trimmed,
// uppercased, inner spaces removed, empties dropped.
func SplitCPCList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(p)), " ", "")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func todayUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
