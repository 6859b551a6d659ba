package store

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sanonone/lacuna/pkg/overview"
	"github.com/sanonone/lacuna/pkg/vecmath"
)

type edgeRow struct {
	source, target string
	weight         float64
}

func readEdges(t *testing.T, s *Store, model string) []edgeRow {
	t.Helper()
	rows, err := s.db.Query(
		`SELECT source, target, weight FROM overview_edges WHERE model = ? ORDER BY source, target`, model)
	if err != nil {
		t.Fatalf("query edges: %v", err)
	}
	defer rows.Close()
	var out []edgeRow
	for rows.Next() {
		var e edgeRow
		if err := rows.Scan(&e.source, &e.target, &e.weight); err != nil {
			t.Fatalf("scan edge: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestPersistOverviewWritesNodesAndEdges(t *testing.T) {
	s := newTestStore(t, Options{})
	seedCorpus(t, s)
	ctx := context.Background()

	upd := &overview.OverviewUpdate{
		Model: "minilm",
		IDs:   []string{"US-1", "US-2", "US-3"},
		Neighbors: &vecmath.Neighbors{
			K:    2,
			Idx:  [][]int32{{0, 1}, {1, 2}, {2, 0}},
			Dist: [][]float32{{0, 0.25}, {0, 0.5}, {0, 0.75}},
		},
		Labels:  []int32{0, 0, 1},
		Density: []float32{0.9, 0.8, 0.1},
		Scores:  []float32{0.5, 0.4, 0.9},
	}
	if err := s.PersistOverview(ctx, upd); err != nil {
		t.Fatalf("PersistOverview returned an error: %v", err)
	}

	var clusterID int
	var density, score float64
	err := s.db.QueryRow(
		`SELECT cluster_id, local_density, overview_score FROM overview_nodes
		 WHERE model = ? AND patent_id = ?`, "minilm", "US-3").Scan(&clusterID, &density, &score)
	if err != nil {
		t.Fatalf("query node: %v", err)
	}
	if clusterID != 1 {
		t.Errorf("cluster_id = %d, want 1", clusterID)
	}
	if math.Abs(density-0.1) > 1e-6 || math.Abs(score-0.9) > 1e-6 {
		t.Errorf("density, score = %f, %f", density, score)
	}

	want := []edgeRow{
		{"US-1", "US-2", 0.75},
		{"US-2", "US-3", 0.5},
		{"US-3", "US-1", 0.25},
	}
	got := readEdges(t, s, "minilm")
	if len(got) != len(want) {
		t.Fatalf("got %d edges, want %d (self rows must be skipped): %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].source != want[i].source || got[i].target != want[i].target {
			t.Errorf("edge %d = %s->%s, want %s->%s",
				i, got[i].source, got[i].target, want[i].source, want[i].target)
		}
		if math.Abs(got[i].weight-want[i].weight) > 1e-6 {
			t.Errorf("edge %d weight = %f, want %f", i, got[i].weight, want[i].weight)
		}
	}
}

func TestPersistOverviewReplacesEdges(t *testing.T) {
	s := newTestStore(t, Options{})
	seedCorpus(t, s)
	ctx := context.Background()

	first := &overview.OverviewUpdate{
		Model: "minilm",
		IDs:   []string{"US-1", "US-2", "US-3"},
		Neighbors: &vecmath.Neighbors{
			K:    2,
			Idx:  [][]int32{{0, 1}, {1, 2}, {2, 0}},
			Dist: [][]float32{{0, 0.25}, {0, 0.5}, {0, 0.75}},
		},
		Labels: []int32{0, 0, 1},
	}
	if err := s.PersistOverview(ctx, first); err != nil {
		t.Fatal(err)
	}

	// A smaller rebuild touching only US-1 and US-2.
	second := &overview.OverviewUpdate{
		Model: "minilm",
		IDs:   []string{"US-1", "US-2"},
		Neighbors: &vecmath.Neighbors{
			K:    2,
			Idx:  [][]int32{{0, 1}, {1, 0}},
			Dist: [][]float32{{0, 0.5}, {0, 0.5}},
		},
		Labels: []int32{2, 2},
	}
	if err := s.PersistOverview(ctx, second); err != nil {
		t.Fatal(err)
	}

	got := readEdges(t, s, "minilm")
	byPair := make(map[string]float64, len(got))
	for _, e := range got {
		byPair[e.source+">"+e.target] = e.weight
	}
	if len(got) != 3 {
		t.Fatalf("got %d edges, want 3: %+v", len(got), got)
	}
	if w := byPair["US-1>US-2"]; math.Abs(w-0.5) > 1e-6 {
		t.Errorf("US-1>US-2 weight = %f, want the rebuilt 0.5", w)
	}
	if _, stale := byPair["US-2>US-3"]; stale {
		t.Error("US-2>US-3 should be gone after the rebuild replaced US-2's edges")
	}
	if _, kept := byPair["US-3>US-1"]; !kept {
		t.Error("US-3>US-1 belongs to a node outside the rebuild and must survive")
	}

	var clusterID int
	if err := s.db.QueryRow(
		`SELECT cluster_id FROM overview_nodes WHERE model = ? AND patent_id = ?`,
		"minilm", "US-1").Scan(&clusterID); err != nil {
		t.Fatal(err)
	}
	if clusterID != 2 {
		t.Errorf("US-1 cluster_id = %d, want the rebuilt 2", clusterID)
	}
}

func TestClusterMembers(t *testing.T) {
	s := newTestStore(t, Options{})
	seedCorpus(t, s)
	ctx := context.Background()

	upd := &overview.OverviewUpdate{
		Model: "minilm",
		IDs:   []string{"US-1", "US-2", "US-3"},
		Neighbors: &vecmath.Neighbors{
			K:    2,
			Idx:  [][]int32{{0, 1}, {1, 2}, {2, 0}},
			Dist: [][]float32{{0, 0.25}, {0, 0.5}, {0, 0.75}},
		},
		Labels:  []int32{0, 0, 1},
		Density: []float32{0.9, 0.8, 0.1},
		Scores:  []float32{0.5, 0.7, 0.9},
	}
	if err := s.PersistOverview(ctx, upd); err != nil {
		t.Fatal(err)
	}

	members, err := s.ClusterMembers(ctx, "minilm", 0, 10)
	if err != nil {
		t.Fatalf("ClusterMembers returned an error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2: %+v", len(members), members)
	}
	// Strongest overview score first: US-2 (0.7) before US-1 (0.5).
	if members[0].ID != "US-2" || members[1].ID != "US-1" {
		t.Errorf("order = %s, %s; want US-2, US-1", members[0].ID, members[1].ID)
	}
	if members[0].Title == "" || members[0].Assignee == "" {
		t.Errorf("join left document fields empty: %+v", members[0])
	}

	t.Run("limit", func(t *testing.T) {
		got, err := s.ClusterMembers(ctx, "minilm", 0, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "US-2" {
			t.Errorf("got %+v, want just US-2", got)
		}
	})

	t.Run("unknown cluster", func(t *testing.T) {
		got, err := s.ClusterMembers(ctx, "minilm", 7, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("got %+v, want none", got)
		}
	})
}

func TestPersistOverviewMalformed(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	if err := s.PersistOverview(ctx, nil); err != nil {
		t.Errorf("nil update should be a no-op, got %v", err)
	}
	if err := s.PersistOverview(ctx, &overview.OverviewUpdate{Model: "m"}); err != nil {
		t.Errorf("empty update should be a no-op, got %v", err)
	}

	err := s.PersistOverview(ctx, &overview.OverviewUpdate{
		Model: "m",
		IDs:   []string{"a", "b"},
		Neighbors: &vecmath.Neighbors{
			K:    1,
			Idx:  [][]int32{{0}},
			Dist: [][]float32{{0}},
		},
	})
	if err == nil {
		t.Error("mismatched neighbor rows should be rejected")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"busy", errors.New("database is locked (5) (SQLITE_BUSY)"), "transient"},
		{"table lock", errors.New("table is locked (6)"), "transient"},
		{"missing table", errors.New("SQL logic error: no such table: overview_nodes (1)"), "schema"},
		{"missing column", errors.New("no such column: overview_score"), "schema"},
		{"readonly", errors.New("attempt to write a readonly database (8)"), "permission"},
		{"not authorized", errors.New("not authorized (23)"), "permission"},
		{"other", errors.New("disk I/O error"), "plain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := classify("op", tc.err)
			var te *overview.TransientError
			var se *overview.SchemaError
			var pe *overview.PermissionError
			got := "plain"
			switch {
			case errors.As(out, &te):
				got = "transient"
			case errors.As(out, &se):
				got = "schema"
			case errors.As(out, &pe):
				got = "permission"
			}
			if got != tc.want {
				t.Errorf("classified as %s, want %s (error: %v)", got, tc.want, out)
			}
			if !errors.Is(out, tc.err) {
				t.Error("classification must keep the cause in the chain")
			}
		})
	}

	t.Run("context errors pass through", func(t *testing.T) {
		if out := classify("op", context.Canceled); !errors.Is(out, context.Canceled) || overview.IsTransient(out) {
			t.Errorf("got %v", out)
		}
	})
	t.Run("nil stays nil", func(t *testing.T) {
		if out := classify("op", nil); out != nil {
			t.Errorf("got %v", out)
		}
	})
}
