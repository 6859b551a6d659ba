package store

import (
	"context"
	"math"
	"testing"

	"github.com/sanonone/lacuna/pkg/overview"
)

// seedScopeCorpus loads five documents spread over three months plus one
// undated row, all embedded under "minilm" with unit 2-d vectors.
func seedScopeCorpus(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	docs := []Patent{
		{ID: "M-1", Title: "Solid state battery cathode", Date: "2024-01-10",
			Assignee: "ACME Corp.", CPCCodes: []string{"H01M10/0562"}},
		{ID: "M-2", Title: "Battery cathode coating process", Date: "2024-01-20",
			Assignee: "ACME Corp.", CPCCodes: []string{"H01M10/0562", "Y02E60/10"}},
		{ID: "M-3", Title: "Thermal cooling system", Date: "2024-02-05",
			Assignee: "Beta LLC"},
		{ID: "M-4", Title: "Battery separator membrane", Date: "2024-03-01",
			Assignee: "Gamma GmbH", CPCCodes: []string{"H01M50/403"}},
		{ID: "M-5", Title: "Battery housing", Assignee: "Beta LLC",
			CPCCodes: []string{"H01M50/20"}},
	}
	vecs := map[string][]float32{
		"M-1": {1, 0},
		"M-2": {0.8, 0.6},
		"M-3": {0, 1},
		"M-4": {0.6, 0.8},
		"M-5": {-1, 0},
	}
	for _, doc := range docs {
		if err := s.UpsertPatent(ctx, doc); err != nil {
			t.Fatalf("UpsertPatent(%s): %v", doc.ID, err)
		}
		if err := s.PutEmbedding(ctx, doc.ID, "minilm", vecs[doc.ID]); err != nil {
			t.Fatalf("PutEmbedding(%s): %v", doc.ID, err)
		}
	}
}

func TestAggregateScope(t *testing.T) {
	s := newTestStore(t, Options{})
	seedScopeCorpus(t, s)
	ctx := context.Background()

	t.Run("keywords with semantic extension", func(t *testing.T) {
		stats, err := s.AggregateScope(ctx, overview.ScopeQuery{
			Keywords:    "battery cathode",
			SemanticIDs: []string{"M-3", "M-4", "M-5", "nope"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if stats.Exact != 2 {
			t.Errorf("Exact = %d, want 2 (M-1 and M-2 carry both stems)", stats.Exact)
		}
		if stats.Semantic != 3 {
			t.Errorf("Semantic = %d, want 3 (unknown ids are dropped)", stats.Semantic)
		}
		if stats.Total != 5 {
			t.Errorf("Total = %d, want the 5-row union", stats.Total)
		}

		wantTimeline := []overview.TimelinePoint{
			{Month: "2024-01", Count: 2, TopAssignee: "ACME Corp.", TopAssigneeCount: 2},
			{Month: "2024-02", Count: 1, TopAssignee: "Beta LLC", TopAssigneeCount: 1},
			{Month: "2024-03", Count: 1, TopAssignee: "Gamma GmbH", TopAssigneeCount: 1},
		}
		if len(stats.Timeline) != len(wantTimeline) {
			t.Fatalf("timeline = %+v, want 3 months (undated rows stay out)", stats.Timeline)
		}
		for i, want := range wantTimeline {
			if stats.Timeline[i] != want {
				t.Errorf("timeline[%d] = %+v, want %+v", i, stats.Timeline[i], want)
			}
		}

		wantRollup := []overview.CPCCount{
			{CPC: "H01M10/0562", Count: 2},
			{CPC: "H01M50/20", Count: 1},
			{CPC: "H01M50/403", Count: 1},
			{CPC: "Unknown", Count: 1},
			{CPC: "Y02E60/10", Count: 1},
		}
		if len(stats.CPCRollup) != len(wantRollup) {
			t.Fatalf("rollup = %+v", stats.CPCRollup)
		}
		for i, want := range wantRollup {
			if stats.CPCRollup[i] != want {
				t.Errorf("rollup[%d] = %+v, want %+v", i, stats.CPCRollup[i], want)
			}
		}
	})

	t.Run("empty keywords count the whole scope", func(t *testing.T) {
		stats, err := s.AggregateScope(ctx, overview.ScopeQuery{
			DateFrom: day(t, "2024-02-01"),
			DateTo:   day(t, "2024-02-29"),
		})
		if err != nil {
			t.Fatal(err)
		}
		if stats.Exact != 1 || stats.Total != 1 {
			t.Errorf("Exact, Total = %d, %d, want 1, 1 (only M-3 in February)",
				stats.Exact, stats.Total)
		}
	})

	t.Run("upper date bound is inclusive", func(t *testing.T) {
		stats, err := s.AggregateScope(ctx, overview.ScopeQuery{
			DateFrom: day(t, "2024-01-20"),
			DateTo:   day(t, "2024-02-05"),
		})
		if err != nil {
			t.Fatal(err)
		}
		if stats.Total != 2 {
			t.Errorf("Total = %d, want 2 (M-2 and M-3 sit on the bounds)", stats.Total)
		}
	})

	t.Run("cpc prefix filter", func(t *testing.T) {
		stats, err := s.AggregateScope(ctx, overview.ScopeQuery{
			CPCPrefixes: []string{"h01m50"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if stats.Total != 2 {
			t.Errorf("Total = %d, want 2 (M-4 and undated M-5)", stats.Total)
		}
		if len(stats.Timeline) != 1 || stats.Timeline[0].Month != "2024-03" {
			t.Errorf("timeline = %+v, want only 2024-03", stats.Timeline)
		}
	})
}

func TestSemanticNeighbors(t *testing.T) {
	s := newTestStore(t, Options{})
	seedScopeCorpus(t, s)
	ctx := context.Background()
	query := []float32{1, 0}

	neighborIDs := func(hits []overview.SemanticNeighbor) []string {
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
		return ids
	}

	t.Run("ascending by distance", func(t *testing.T) {
		hits, err := s.SemanticNeighbors(ctx, overview.ScopeQuery{}, query, 3)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"M-1", "M-2", "M-4"}
		got := neighborIDs(hits)
		if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
			t.Fatalf("got %v, want %v", got, want)
		}
		if hits[0].Distance != 0 {
			t.Errorf("identical vector distance = %f, want 0", hits[0].Distance)
		}
		if math.Abs(hits[1].Distance-0.2) > 1e-6 {
			t.Errorf("M-2 distance = %f, want 0.2", hits[1].Distance)
		}
		for i := 1; i < len(hits); i++ {
			if hits[i].Distance < hits[i-1].Distance {
				t.Errorf("distances not ascending: %+v", hits)
			}
		}
	})

	t.Run("date filter narrows the scan", func(t *testing.T) {
		hits, err := s.SemanticNeighbors(ctx, overview.ScopeQuery{
			DateFrom: day(t, "2024-02-01"),
		}, query, 10)
		if err != nil {
			t.Fatal(err)
		}
		got := neighborIDs(hits)
		if len(got) != 2 || got[0] != "M-4" || got[1] != "M-3" {
			t.Errorf("got %v, want [M-4 M-3] (undated M-5 excluded)", got)
		}
	})

	t.Run("cpc filter narrows the scan", func(t *testing.T) {
		hits, err := s.SemanticNeighbors(ctx, overview.ScopeQuery{
			CPCPrefixes: []string{"Y02E"},
		}, query, 10)
		if err != nil {
			t.Fatal(err)
		}
		if got := neighborIDs(hits); len(got) != 1 || got[0] != "M-2" {
			t.Errorf("got %v, want [M-2]", got)
		}
	})

	t.Run("keywords do not constrain the scan", func(t *testing.T) {
		hits, err := s.SemanticNeighbors(ctx, overview.ScopeQuery{
			Keywords: "no row contains this",
		}, query, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 2 {
			t.Errorf("got %d hits, want 2: the semantic scan widens keyword scopes", len(hits))
		}
	})

	t.Run("zero limit or empty vector", func(t *testing.T) {
		if hits, err := s.SemanticNeighbors(ctx, overview.ScopeQuery{}, query, 0); err != nil || hits != nil {
			t.Errorf("limit 0: got %v, %v", hits, err)
		}
		if hits, err := s.SemanticNeighbors(ctx, overview.ScopeQuery{}, nil, 5); err != nil || hits != nil {
			t.Errorf("nil vector: got %v, %v", hits, err)
		}
	})
}

func TestSemanticNeighborsUsesCache(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, Options{Path: dir + "/lacuna.db", CacheDir: dir + "/cache"})
	seedScopeCorpus(t, s)

	for pass := 0; pass < 2; pass++ {
		hits, err := s.SemanticNeighbors(context.Background(), overview.ScopeQuery{}, []float32{1, 0}, 1)
		if err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if len(hits) != 1 || hits[0].ID != "M-1" {
			t.Fatalf("pass %d: got %+v, want M-1", pass, hits)
		}
	}
}

func TestCrowdingPercentile(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	if _, ok, err := s.CrowdingPercentile(ctx, 10); err != nil || ok {
		t.Fatalf("unseeded ladder: ok = %v, err = %v, want ok=false", ok, err)
	}

	if err := s.SetCrowdingLadder(ctx, []int{5, 10, 20, 40}); err != nil {
		t.Fatalf("SetCrowdingLadder: %v", err)
	}
	cases := []struct {
		total int
		want  float64
	}{
		{1, 0},
		{10, 0.5},
		{100, 1},
	}
	for _, tc := range cases {
		p, ok, err := s.CrowdingPercentile(ctx, tc.total)
		if err != nil || !ok {
			t.Fatalf("total %d: ok = %v, err = %v", tc.total, ok, err)
		}
		if p != tc.want {
			t.Errorf("percentile(%d) = %f, want %f", tc.total, p, tc.want)
		}
	}

	// Reseeding replaces the ladder.
	if err := s.SetCrowdingLadder(ctx, []int{100}); err != nil {
		t.Fatal(err)
	}
	if p, ok, _ := s.CrowdingPercentile(ctx, 10); !ok || p != 0 {
		t.Errorf("after reseed: p = %f, ok = %v, want 0, true", p, ok)
	}
}
