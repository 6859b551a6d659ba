package cluster

import (
	"github.com/sanonone/lacuna/pkg/vecmath"
)

// Threshold labels rows by thresholded connected components: any neighbor
// pair with similarity >= MinSimilarity is merged, without regard to edge
// direction. It needs no optimizer and no randomness, at the cost of a much
// coarser partition than Modularity.
type Threshold struct {
	MinSimilarity float64
}

// DefaultMinSimilarity merges only tightly related neighbors.
const DefaultMinSimilarity = 0.75

// NewThreshold returns a Threshold labeler with the default similarity bar.
func NewThreshold() *Threshold {
	return &Threshold{MinSimilarity: DefaultMinSimilarity}
}

func (t *Threshold) Name() string { return "threshold" }

func (t *Threshold) Label(nb *vecmath.Neighbors) ([]int32, error) {
	n := len(nb.Idx)
	if n == 0 {
		return nil, nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(a int) int {
		for parent[a] != a {
			parent[a] = parent[parent[a]]
			a = parent[a]
		}
		return a
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for jpos, j := range nb.Idx[i] {
			if int(j) == i {
				continue
			}
			if 1-float64(nb.Dist[i][jpos]) >= t.MinSimilarity {
				union(i, int(j))
			}
		}
	}

	// Dense labels in first-occurrence order, so the component holding the
	// smallest row index always gets label 0.
	dense := make(map[int]int32, n)
	labels := make([]int32, n)
	for i := 0; i < n; i++ {
		root := find(i)
		id, ok := dense[root]
		if !ok {
			id = int32(len(dense))
			dense[root] = id
		}
		labels[i] = id
	}
	return labels, nil
}
