// Package cluster assigns community labels to the rows of a KNN graph.
//
// Two strategies are provided with the same dispatch shape as the distance
// kernels: a modularity maximization over the weighted neighbor graph, and a
// thresholded connected-components fallback that needs no optimization at
// all. Both return dense labels (0..C-1) with a deterministic ordering, so
// repeated runs over the same input produce identical cluster ids.
package cluster

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/sanonone/lacuna/pkg/vecmath"
)

// Labeler assigns a community label to every row of a KNN result.
type Labeler interface {
	Label(nb *vecmath.Neighbors) ([]int32, error)
	Name() string
}

// DefaultSeed fixes the random source of the modularity optimizer so the
// whole pipeline stays reproducible.
const DefaultSeed = 42

// Modularity clusters the neighbor graph by maximizing weighted modularity
// at the configured resolution. Higher resolutions produce more, smaller
// communities.
type Modularity struct {
	Resolution float64
	Seed       uint64
}

// NewModularity returns a Modularity labeler with the default seed.
func NewModularity(resolution float64) *Modularity {
	return &Modularity{Resolution: resolution, Seed: DefaultSeed}
}

func (m *Modularity) Name() string { return "modularity" }

// Label builds the undirected weighted graph from the KNN lists and runs the
// community optimizer. Each undirected pair enters once, taken from the
// lower-indexed row's neighbor list with weight 1 - dist. Pairs whose weight
// is not positive are left out: they carry no attraction and the optimizer
// rejects negative weights.
func (m *Modularity) Label(nb *vecmath.Neighbors) ([]int32, error) {
	n := len(nb.Idx)
	if n == 0 {
		return nil, nil
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < n; i++ {
		for jpos, j := range nb.Idx[i] {
			if int32(i) >= j {
				continue
			}
			if int(j) >= n {
				return nil, fmt.Errorf("cluster: neighbor index %d out of range", j)
			}
			w := float64(1 - nb.Dist[i][jpos])
			if w <= 0 {
				continue
			}
			g.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(i),
				T: simple.Node(j),
				W: w,
			})
		}
	}

	reduced := community.Modularize(g, m.Resolution, rand.NewPCG(m.Seed, m.Seed))
	return denseLabels(n, reduced.Communities())
}

// denseLabels converts community node sets into per-row labels. Communities
// are ordered by their smallest member index, which keeps label ids stable
// across runs.
func denseLabels(n int, comms [][]graph.Node) ([]int32, error) {
	type member struct {
		min   int64
		nodes []graph.Node
	}
	members := make([]member, 0, len(comms))
	for _, c := range comms {
		if len(c) == 0 {
			continue
		}
		min := c[0].ID()
		for _, node := range c[1:] {
			if node.ID() < min {
				min = node.ID()
			}
		}
		members = append(members, member{min: min, nodes: c})
	}
	sort.Slice(members, func(a, b int) bool { return members[a].min < members[b].min })

	labels := make([]int32, n)
	for i := range labels {
		labels[i] = -1
	}
	for id, m := range members {
		for _, node := range m.nodes {
			idx := node.ID()
			if idx < 0 || idx >= int64(n) {
				return nil, fmt.Errorf("cluster: community node %d out of range", idx)
			}
			labels[idx] = int32(id)
		}
	}
	for i, l := range labels {
		if l < 0 {
			return nil, fmt.Errorf("cluster: row %d missing from partition", i)
		}
	}
	return labels, nil
}
