package embeddings

import (
	"errors"
	"fmt"
	"testing"
)

// countingEmbedder hands out a distinct vector per text and counts calls.
type countingEmbedder struct {
	calls int
	fail  bool
}

func (e *countingEmbedder) Embed(text string) ([]float32, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("embedder down")
	}
	return []float32{float32(len(text)), float32(e.calls)}, nil
}

func TestCachedEmbedderMemoizes(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 8)

	first, err := cached.Embed("battery cathode")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := cached.Embed("battery cathode")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner called %d times, want 1", inner.calls)
	}
	if len(first) != len(second) || first[0] != second[0] || first[1] != second[1] {
		t.Errorf("cached vector differs: %v vs %v", first, second)
	}

	// Mutating a returned slice must not poison the cache.
	second[0] = -1
	third, err := cached.Embed("battery cathode")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if third[0] == -1 {
		t.Error("cache entry was mutated through a returned slice")
	}
}

func TestCachedEmbedderEvictsOldest(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 2)

	for _, q := range []string{"a", "b", "c"} {
		if _, err := cached.Embed(q); err != nil {
			t.Fatalf("Embed(%q): %v", q, err)
		}
	}
	if cached.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cached.Len())
	}

	// "a" was evicted, so this costs another inner call.
	calls := inner.calls
	if _, err := cached.Embed("a"); err != nil {
		t.Fatal(err)
	}
	if inner.calls != calls+1 {
		t.Errorf("expected a refetch for the evicted entry, calls %d -> %d", calls, inner.calls)
	}

	// "c" is still cached.
	calls = inner.calls
	if _, err := cached.Embed("c"); err != nil {
		t.Fatal(err)
	}
	if inner.calls != calls {
		t.Errorf("expected a hit for a cached entry, calls %d -> %d", calls, inner.calls)
	}
}

func TestCachedEmbedderErrorNotCached(t *testing.T) {
	inner := &countingEmbedder{fail: true}
	cached := NewCachedEmbedder(inner, 4)

	if _, err := cached.Embed("q"); err == nil {
		t.Fatal("expected error from inner embedder")
	}
	inner.fail = false
	vec, err := cached.Embed("q")
	if err != nil {
		t.Fatalf("Embed after recovery: %v", err)
	}
	if len(vec) == 0 {
		t.Error("expected a vector after the embedder recovered")
	}
	if inner.calls != 2 {
		t.Errorf("inner called %d times, want 2 (errors are not cached)", inner.calls)
	}
}

func TestCachedEmbedderConcurrent(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 64)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				if _, err := cached.Embed(fmt.Sprintf("query-%d", i%10)); err != nil {
					t.Errorf("goroutine %d: %v", g, err)
					return
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	if cached.Len() != 10 {
		t.Errorf("Len = %d, want 10 distinct entries", cached.Len())
	}
}
