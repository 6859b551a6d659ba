package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/sanonone/lacuna/pkg/overview"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "lacuna.db")
	}
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open returned an error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedCorpus loads four documents embedded under "minilm":
//
//	US-1  2024-03-12  heating-related title, CPC H01M10/52, assignee acme
//	US-2  2024-03-12  cooling-related title, assignee acme
//	US-3  2024-03-10  CPC F28D20/00, assignee beta
//	US-4  undated     assignee beta
func seedCorpus(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	docs := []Patent{
		{ID: "US-1", Title: "Fast heating element for battery packs", Date: "2024-03-12",
			Assignee: "ACME Corp.", AssigneeID: "acme", CPCCodes: []string{"H01M10/52"}},
		{ID: "US-2", Title: "Coolant loop for power cells", Date: "2024-03-12",
			Assignee: "ACME Corp.", AssigneeID: "acme"},
		{ID: "US-3", Title: "Phase change storage medium", Date: "2024-03-10",
			Assignee: "Beta LLC", AssigneeID: "beta", CPCCodes: []string{"F28D20/00"}},
		{ID: "US-4", Title: "Insulated housing", Assignee: "Beta LLC", AssigneeID: "beta"},
	}
	vecs := map[string][]float32{
		"US-1": {1, 0},
		"US-2": {0.8, 0.6},
		"US-3": {0, 1},
		"US-4": {-1, 0},
	}
	for _, doc := range docs {
		if err := s.UpsertPatent(ctx, doc); err != nil {
			t.Fatalf("UpsertPatent(%s) returned an error: %v", doc.ID, err)
		}
		if err := s.PutEmbedding(ctx, doc.ID, "minilm", vecs[doc.ID]); err != nil {
			t.Fatalf("PutEmbedding(%s) returned an error: %v", doc.ID, err)
		}
	}
}

func candidateIDs(out []overview.Candidate) []string {
	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.ID
	}
	return ids
}

func day(t *testing.T, iso string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", iso)
	if err != nil {
		t.Fatalf("bad date literal %q: %v", iso, err)
	}
	return d
}

func TestFetchCandidatesOrdering(t *testing.T) {
	s := newTestStore(t, Options{})
	seedCorpus(t, s)

	out, err := s.FetchCandidates(context.Background(), overview.CandidateQuery{Model: "minilm"})
	if err != nil {
		t.Fatalf("FetchCandidates returned an error: %v", err)
	}
	want := []string{"US-1", "US-2", "US-3", "US-4"}
	got := candidateIDs(out)
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if !out[3].Date.IsZero() {
		t.Errorf("undated row reported date %v", out[3].Date)
	}
	if out[0].Vector[0] != 1 || out[0].Vector[1] != 0 {
		t.Errorf("US-1 vector = %v", out[0].Vector)
	}
}

func TestFetchCandidatesDateWindow(t *testing.T) {
	s := newTestStore(t, Options{})
	seedCorpus(t, s)
	ctx := context.Background()

	t.Run("upper bound is exclusive", func(t *testing.T) {
		out, err := s.FetchCandidates(ctx, overview.CandidateQuery{
			Model: "minilm", DateTo: day(t, "2024-03-12"),
		})
		if err != nil {
			t.Fatal(err)
		}
		got := candidateIDs(out)
		if len(got) != 1 || got[0] != "US-3" {
			t.Errorf("got %v, want [US-3]", got)
		}
	})

	t.Run("lower bound is inclusive", func(t *testing.T) {
		out, err := s.FetchCandidates(ctx, overview.CandidateQuery{
			Model: "minilm", DateFrom: day(t, "2024-03-12"),
		})
		if err != nil {
			t.Fatal(err)
		}
		got := candidateIDs(out)
		if len(got) != 2 || got[0] != "US-1" || got[1] != "US-2" {
			t.Errorf("got %v, want [US-1 US-2]", got)
		}
	})

	t.Run("undated rows fail bounded checks", func(t *testing.T) {
		out, err := s.FetchCandidates(ctx, overview.CandidateQuery{
			Model: "minilm", DateFrom: day(t, "2000-01-01"),
		})
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range out {
			if c.ID == "US-4" {
				t.Error("undated US-4 matched a bounded window")
			}
		}
	})
}

func TestFetchCandidatesFocus(t *testing.T) {
	s := newTestStore(t, Options{})
	seedCorpus(t, s)
	ctx := context.Background()

	focusSet := func(q overview.CandidateQuery) map[string]bool {
		t.Helper()
		q.Model = "minilm"
		out, err := s.FetchCandidates(ctx, q)
		if err != nil {
			t.Fatal(err)
		}
		set := make(map[string]bool)
		for _, c := range out {
			set[c.ID] = c.IsFocus
		}
		return set
	}

	t.Run("keywords match stemmed terms", func(t *testing.T) {
		// "heated" stems to the same root as the stored "heating".
		set := focusSet(overview.CandidateQuery{Keywords: []string{"heated"}})
		if !set["US-1"] {
			t.Error("US-1 should be focus for keyword 'heated'")
		}
		if set["US-2"] || set["US-3"] {
			t.Error("only US-1 carries the heating stem")
		}
	})

	t.Run("phrase requires every stem", func(t *testing.T) {
		set := focusSet(overview.CandidateQuery{Keywords: []string{"heating coolant"}})
		for id, isFocus := range set {
			if isFocus {
				t.Errorf("%s matched a phrase no row contains entirely", id)
			}
		}
	})

	t.Run("cpc prefixes normalize case and spaces", func(t *testing.T) {
		set := focusSet(overview.CandidateQuery{CPCPrefixes: []string{"h01m 10"}})
		if !set["US-1"] {
			t.Error("US-1 should be focus for prefix h01m 10")
		}
		if set["US-3"] {
			t.Error("US-3 carries F28D20/00, not H01M")
		}
	})

	t.Run("assignee membership", func(t *testing.T) {
		set := focusSet(overview.CandidateQuery{AssigneeIDs: []string{"beta"}})
		if !set["US-3"] || !set["US-4"] {
			t.Error("beta rows should be focus")
		}
		if set["US-1"] {
			t.Error("US-1 belongs to acme")
		}
	})

	t.Run("focus only filters rows", func(t *testing.T) {
		q := overview.CandidateQuery{Model: "minilm", Keywords: []string{"heated"}, FocusOnly: true}
		out, err := s.FetchCandidates(ctx, q)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 1 || out[0].ID != "US-1" {
			t.Errorf("got %v, want only US-1", candidateIDs(out))
		}
	})
}

func TestFetchCandidatesLimitAndExclude(t *testing.T) {
	s := newTestStore(t, Options{})
	seedCorpus(t, s)
	ctx := context.Background()

	out, err := s.FetchCandidates(ctx, overview.CandidateQuery{Model: "minilm", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got := candidateIDs(out); len(got) != 2 || got[0] != "US-1" || got[1] != "US-2" {
		t.Errorf("limited fetch = %v, want [US-1 US-2]", got)
	}

	out, err = s.FetchCandidates(ctx, overview.CandidateQuery{
		Model:   "minilm",
		Limit:   2,
		Exclude: map[string]struct{}{"US-1": {}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := candidateIDs(out); len(got) != 2 || got[0] != "US-2" || got[1] != "US-3" {
		t.Errorf("excluding US-1 = %v, want [US-2 US-3]", got)
	}
}

func TestFetchCandidatesUnknownModel(t *testing.T) {
	s := newTestStore(t, Options{})
	seedCorpus(t, s)

	out, err := s.FetchCandidates(context.Background(), overview.CandidateQuery{Model: "nope"})
	if err != nil {
		t.Fatalf("unknown model should return no rows, got error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d candidates for an unknown model", len(out))
	}
}

func TestPickModel(t *testing.T) {
	s := newTestStore(t, Options{})
	seedCorpus(t, s)
	ctx := context.Background()

	// A second model covering fewer rows.
	if err := s.PutEmbedding(ctx, "US-1", "e5", []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}

	t.Run("preferred with rows wins", func(t *testing.T) {
		model, err := s.PickModel(ctx, "e5")
		if err != nil {
			t.Fatal(err)
		}
		if model != "e5" {
			t.Errorf("got %q, want e5", model)
		}
	})
	t.Run("unknown preferred falls back to most rows", func(t *testing.T) {
		model, err := s.PickModel(ctx, "missing")
		if err != nil {
			t.Fatal(err)
		}
		if model != "minilm" {
			t.Errorf("got %q, want minilm", model)
		}
	})
	t.Run("no preference picks most rows", func(t *testing.T) {
		model, err := s.PickModel(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if model != "minilm" {
			t.Errorf("got %q, want minilm", model)
		}
	})
	t.Run("empty store yields NoDataError", func(t *testing.T) {
		empty := newTestStore(t, Options{})
		_, err := empty.PickModel(ctx, "")
		var nde *overview.NoDataError
		if !errors.As(err, &nde) {
			t.Fatalf("got %v, want *overview.NoDataError", err)
		}
	})
}

func TestReopenRebuildsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lacuna.db")
	s := newTestStore(t, Options{Path: path})
	seedCorpus(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned an error: %v", err)
	}

	s = newTestStore(t, Options{Path: path})
	out, err := s.FetchCandidates(context.Background(), overview.CandidateQuery{
		Model: "minilm", Keywords: []string{"heating"}, FocusOnly: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "US-1" {
		t.Errorf("reopened store fetch = %v, want [US-1]", candidateIDs(out))
	}
	if out[0].Assignee != "ACME Corp." {
		t.Errorf("assignee = %q after reopen", out[0].Assignee)
	}
}

func TestVectorCache(t *testing.T) {
	for _, precision := range []string{"float32", "float16"} {
		t.Run(precision, func(t *testing.T) {
			dir := t.TempDir()
			s := newTestStore(t, Options{
				Path:           filepath.Join(dir, "lacuna.db"),
				CacheDir:       filepath.Join(dir, "cache"),
				CachePrecision: precision,
			})
			seedCorpus(t, s)

			tolerance := 0.0
			if precision == "float16" {
				tolerance = 1e-3
			}
			want := map[string][]float32{
				"US-1": {1, 0},
				"US-2": {0.8, 0.6},
			}
			// Two passes: the first warms the arena, the second reads it.
			for pass := 0; pass < 2; pass++ {
				out, err := s.FetchCandidates(context.Background(), overview.CandidateQuery{
					Model: "minilm", Limit: 2,
				})
				if err != nil {
					t.Fatalf("pass %d: %v", pass, err)
				}
				for _, c := range out {
					expect, ok := want[c.ID]
					if !ok {
						t.Fatalf("pass %d: unexpected id %s", pass, c.ID)
					}
					for i := range expect {
						if math.Abs(float64(c.Vector[i]-expect[i])) > tolerance {
							t.Errorf("pass %d: %s[%d] = %f, want %f",
								pass, c.ID, i, c.Vector[i], expect[i])
						}
					}
				}
			}
		})
	}
}
