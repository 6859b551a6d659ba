package overview

import (
	"context"
	"errors"
	"testing"
)

type fakeSummarySource struct {
	neighbors []SemanticNeighbor
	stats     *ScopeStats
	pct       float64
	pctOK     bool
	pctErr    error

	semanticCalls int
	lastScope     ScopeQuery
	lastVec       []float32
	lastLimit     int
	aggScope      ScopeQuery
}

func (s *fakeSummarySource) SemanticNeighbors(ctx context.Context, q ScopeQuery, vec []float32, limit int) ([]SemanticNeighbor, error) {
	s.semanticCalls++
	s.lastScope = q
	s.lastVec = vec
	s.lastLimit = limit
	return s.neighbors, nil
}

func (s *fakeSummarySource) AggregateScope(ctx context.Context, q ScopeQuery) (*ScopeStats, error) {
	s.aggScope = q
	if s.stats == nil {
		return &ScopeStats{}, nil
	}
	return s.stats, nil
}

func (s *fakeSummarySource) CrowdingPercentile(ctx context.Context, total int) (float64, bool, error) {
	return s.pct, s.pctOK, s.pctErr
}

type fakeEmbedder struct {
	vec      []float32
	err      error
	calls    int
	lastText string
}

func (e *fakeEmbedder) Embed(text string) ([]float32, error) {
	e.calls++
	e.lastText = text
	return e.vec, e.err
}

func TestFilterSemanticIDs(t *testing.T) {
	rows := func(ds ...float64) []SemanticNeighbor {
		out := make([]SemanticNeighbor, len(ds))
		for i, d := range ds {
			out[i] = SemanticNeighbor{ID: string(rune('a' + i)), Distance: d}
		}
		return out
	}

	t.Run("cap from first hit", func(t *testing.T) {
		kept, capDist := filterSemanticIDs(rows(0.10, 0.20, 0.30, 0.47), 100, nil)
		if !almostEqual(capDist, 0.45, 1e-9) {
			t.Errorf("cap = %f, want 0.45", capDist)
		}
		if len(kept) != 3 {
			t.Errorf("kept = %v, want the three under the cap", kept)
		}
	})

	t.Run("hard ceiling", func(t *testing.T) {
		_, capDist := filterSemanticIDs(rows(0.70, 0.80), 100, nil)
		if !almostEqual(capDist, semanticDistCap, 1e-9) {
			t.Errorf("cap = %f, want the hard ceiling", capDist)
		}
	})

	t.Run("tau tightens the cap", func(t *testing.T) {
		tau := 0.12
		kept, capDist := filterSemanticIDs(rows(0.10, 0.15, 0.20), 100, &tau)
		if !almostEqual(capDist, 0.12, 1e-9) {
			t.Errorf("cap = %f, want tau", capDist)
		}
		if len(kept) != 1 {
			t.Errorf("kept = %v, want only the first hit", kept)
		}
	})

	t.Run("gap cuts the tail", func(t *testing.T) {
		kept, _ := filterSemanticIDs(rows(0.10, 0.15, 0.30, 0.32), 100, nil)
		if len(kept) != 2 {
			t.Errorf("kept = %v, want 2 before the 0.15 jump", kept)
		}
	})

	t.Run("limit", func(t *testing.T) {
		kept, _ := filterSemanticIDs(rows(0.10, 0.11, 0.12, 0.13), 2, nil)
		if len(kept) != 2 {
			t.Errorf("kept = %v, want 2", kept)
		}
	})

	t.Run("dedup", func(t *testing.T) {
		in := []SemanticNeighbor{{ID: "x", Distance: 0.1}, {ID: "x", Distance: 0.12}, {ID: "y", Distance: 0.14}}
		kept, _ := filterSemanticIDs(in, 100, nil)
		if len(kept) != 2 || kept[0] != "x" || kept[1] != "y" {
			t.Errorf("kept = %v", kept)
		}
	})

	t.Run("empty", func(t *testing.T) {
		kept, _ := filterSemanticIDs(nil, 100, nil)
		if kept != nil {
			t.Errorf("kept = %v, want nil", kept)
		}
	})
}

func TestComputeTimelineMomentum(t *testing.T) {
	pts := func(counts ...int) []TimelinePoint {
		out := make([]TimelinePoint, len(counts))
		for i, c := range counts {
			out[i] = TimelinePoint{Month: "2024-01", Count: c}
		}
		return out
	}

	t.Run("too short", func(t *testing.T) {
		slope, cagr, bucket := computeTimelineMomentum(pts(5))
		if slope != 0 || cagr != nil || bucket != TrendFlat {
			t.Errorf("got %f, %v, %q", slope, cagr, bucket)
		}
	})

	t.Run("rising", func(t *testing.T) {
		slope, cagr, bucket := computeTimelineMomentum(pts(10, 20))
		// Raw slope 10 over mean 15.
		if !almostEqual(slope, 10.0/15.0, 1e-9) {
			t.Errorf("slope = %f", slope)
		}
		if cagr == nil || !almostEqual(*cagr, 1.0, 1e-9) {
			t.Errorf("cagr = %v, want 1.0", cagr)
		}
		if bucket != TrendUp {
			t.Errorf("bucket = %q", bucket)
		}
	})

	t.Run("falling", func(t *testing.T) {
		slope, cagr, bucket := computeTimelineMomentum(pts(20, 10))
		if bucket != TrendDown {
			t.Errorf("bucket = %q", bucket)
		}
		if slope >= 0 {
			t.Errorf("slope = %f, want negative", slope)
		}
		if cagr == nil || !almostEqual(*cagr, -0.5, 1e-9) {
			t.Errorf("cagr = %v, want -0.5", cagr)
		}
	})

	t.Run("flat", func(t *testing.T) {
		slope, _, bucket := computeTimelineMomentum(pts(7, 7, 7))
		if !almostEqual(slope, 0, 1e-9) || bucket != TrendFlat {
			t.Errorf("slope = %f, bucket = %q", slope, bucket)
		}
	})
}

func TestSumRecentMonths(t *testing.T) {
	var points []TimelinePoint
	for _, m := range []string{"2024-06", "2024-07", "2024-08", "2024-09", "2024-10", "2024-11", "2024-12"} {
		points = append(points, TimelinePoint{Month: m, Count: 1})
	}
	endMonth := date(2024, 12, 1)
	if got := sumRecentMonths(points, endMonth, 6); got != 6 {
		t.Errorf("m6 = %d, want 6 (2024-06 falls outside)", got)
	}
	if got := sumRecentMonths(points, endMonth, 12); got != 7 {
		t.Errorf("m12 = %d, want all 7", got)
	}
}

func TestSplitCPCList(t *testing.T) {
	got := SplitCPCList(" h01m , g06f,, H 04 L ")
	want := []string{"H01M", "G06F", "H04L"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
	if SplitCPCList("") != nil {
		t.Error("empty input should yield nil")
	}
}

func TestBuildSummary(t *testing.T) {
	src := &fakeSummarySource{
		stats: &ScopeStats{
			Exact:    10,
			Semantic: 0,
			Total:    12,
			Timeline: []TimelinePoint{
				{Month: "2024-10", Count: 5, TopAssignee: "Acme", TopAssigneeCount: 3},
				{Month: "2024-11", Count: 10, TopAssignee: "Acme", TopAssigneeCount: 6},
				{Month: "2024-12", Count: 3},
			},
			CPCRollup: []CPCCount{
				{CPC: "H01M", Count: 9}, {CPC: "G06F", Count: 7}, {CPC: "H04L", Count: 5},
				{CPC: "G06N", Count: 4}, {CPC: "B60L", Count: 3}, {CPC: "C07D", Count: 2},
				{CPC: "A61K", Count: 1},
			},
		},
		pct:   0.82,
		pctOK: true,
	}
	emb := &fakeEmbedder{vec: []float32{1, 0}}
	sum := NewSummarizer(src, emb, testLogger())

	req := &SummaryRequest{DateTo: "2024-12-31"}
	out, err := sum.Build(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if out.WindowMonths != 24 {
		t.Errorf("window months = %d, want the default 24", out.WindowMonths)
	}
	if !src.aggScope.DateFrom.Equal(date(2023, 1, 1)) {
		t.Errorf("default start = %v, want 2023-01-01", src.aggScope.DateFrom)
	}
	if !src.aggScope.DateTo.Equal(date(2024, 12, 31)) {
		t.Errorf("end = %v", src.aggScope.DateTo)
	}

	if out.Crowding.Exact != 10 || out.Crowding.Total != 12 {
		t.Errorf("crowding = %+v", out.Crowding)
	}
	if !almostEqual(out.Crowding.DensityPerMonth, 12.0/24.0, 1e-9) {
		t.Errorf("density per month = %f", out.Crowding.DensityPerMonth)
	}
	if out.Crowding.Percentile == nil || !almostEqual(*out.Crowding.Percentile, 0.82, 1e-9) {
		t.Errorf("percentile = %v", out.Crowding.Percentile)
	}

	if !almostEqual(out.Density.MeanPerMonth, 6.0, 1e-9) {
		t.Errorf("mean per month = %f", out.Density.MeanPerMonth)
	}
	if out.Density.MinPerMonth != 3 || out.Density.MaxPerMonth != 10 {
		t.Errorf("density bounds = %+v", out.Density)
	}

	if len(out.CPCBreakdown) != 7 {
		t.Errorf("breakdown = %d entries", len(out.CPCBreakdown))
	}
	if len(out.TopCPCs) != 5 || out.TopCPCs[0].CPC != "H01M" {
		t.Errorf("top cpcs = %+v", out.TopCPCs)
	}

	// timeline [5 10 3] across Oct..Dec, window ending December 2024.
	if out.Recency.M6 != 18 || out.Recency.M12 != 18 || out.Recency.M24 != 18 {
		t.Errorf("recency = %+v", out.Recency)
	}
	if out.Momentum.Bucket == "" || len(out.Momentum.Series) != 3 {
		t.Errorf("momentum = %+v", out.Momentum)
	}

	// Semantic expansion was not requested: no embedding, no neighbor scan.
	if emb.calls != 0 || src.semanticCalls != 0 {
		t.Errorf("semantic path ran: emb=%d src=%d", emb.calls, src.semanticCalls)
	}
	if src.aggScope.SemanticIDs != nil {
		t.Errorf("semantic ids = %v, want none", src.aggScope.SemanticIDs)
	}
}

func TestBuildSummarySemantic(t *testing.T) {
	src := &fakeSummarySource{
		neighbors: []SemanticNeighbor{
			{ID: "p1", Distance: 0.10},
			{ID: "p2", Distance: 0.15},
			{ID: "p3", Distance: 0.80},
		},
		stats: &ScopeStats{Exact: 4, Semantic: 2, Total: 6},
	}
	emb := &fakeEmbedder{vec: []float32{0.5, 0.5}}
	sum := NewSummarizer(src, emb, testLogger())

	req := &SummaryRequest{Keywords: " battery ", DateTo: "2024-12-31", Semantic: true}
	out, err := sum.Build(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if emb.calls != 1 || emb.lastText != "battery" {
		t.Errorf("embedder: calls=%d text=%q", emb.calls, emb.lastText)
	}
	if src.semanticCalls != 1 {
		t.Fatalf("semantic calls = %d", src.semanticCalls)
	}
	if src.lastLimit != DefaultSemanticLimit {
		t.Errorf("semantic limit = %d, want default", src.lastLimit)
	}
	// 0.80 sits beyond the 0.45 cap.
	if len(src.aggScope.SemanticIDs) != 2 {
		t.Errorf("semantic ids = %v, want p1 and p2", src.aggScope.SemanticIDs)
	}
	if out.Crowding.Semantic != 2 {
		t.Errorf("semantic count = %d", out.Crowding.Semantic)
	}
}

func TestBuildSummaryErrors(t *testing.T) {
	t.Run("inverted dates", func(t *testing.T) {
		sum := NewSummarizer(&fakeSummarySource{}, nil, testLogger())
		_, err := sum.Build(context.Background(), &SummaryRequest{
			DateFrom: "2025-01-01",
			DateTo:   "2024-01-01",
		})
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("err = %v, want validation error", err)
		}
		if ve.Error() != "date_from cannot be after date_to" {
			t.Errorf("message = %q", ve.Error())
		}
	})

	t.Run("embedding failure", func(t *testing.T) {
		src := &fakeSummarySource{}
		emb := &fakeEmbedder{err: errors.New("model endpoint down")}
		sum := NewSummarizer(src, emb, testLogger())
		_, err := sum.Build(context.Background(), &SummaryRequest{Keywords: "battery", Semantic: true})
		if err == nil {
			t.Fatal("expected the embedding error to surface")
		}
		if src.semanticCalls != 0 {
			t.Error("neighbor scan ran without a query vector")
		}
	})

	t.Run("percentile failure is swallowed", func(t *testing.T) {
		src := &fakeSummarySource{
			stats:  &ScopeStats{Total: 5},
			pctErr: errors.New("no such table: crowding_ladder"),
		}
		sum := NewSummarizer(src, nil, testLogger())
		out, err := sum.Build(context.Background(), &SummaryRequest{DateTo: "2024-12-31"})
		if err != nil {
			t.Fatal(err)
		}
		if out.Crowding.Percentile != nil {
			t.Errorf("percentile = %v, want nil", out.Crowding.Percentile)
		}
	})

	t.Run("no embedder skips semantic", func(t *testing.T) {
		src := &fakeSummarySource{stats: &ScopeStats{Total: 1}}
		sum := NewSummarizer(src, nil, testLogger())
		out, err := sum.Build(context.Background(), &SummaryRequest{Keywords: "battery", Semantic: true, DateTo: "2024-12-31"})
		if err != nil {
			t.Fatal(err)
		}
		if src.semanticCalls != 0 {
			t.Error("semantic path should be skipped without an embedder")
		}
		if out == nil {
			t.Fatal("nil summary")
		}
	})
}
