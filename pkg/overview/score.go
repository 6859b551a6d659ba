package overview

import (
	"fmt"
	"math"

	"github.com/sanonone/lacuna/pkg/vecmath"
)

// Metrics bundles the per-node outputs of the whitespace scorer.
type Metrics struct {
	Score       []float32
	Proximity   []float32
	Distance    []float32
	FocusVector []float32
}

// ComputeMetrics derives the composite whitespace score per node.
//
// The focus vector F is the mean of the focus-tagged rows; without any focus
// rows it falls back to the global mean and halves alpha. Each node then
// combines proximity = exp(-alpha*‖x-F‖), sparsity = 1 - minmax(density) and
// an inverted momentum penalty 1 - beta*momentum[cluster]. Focus rows score
// exactly 0 so the caller's own filings never surface as whitespace.
func ComputeMetrics(rows [][]float32, labels []int32, density []float32, focus []bool, alpha, beta float64, momentum []float32) (*Metrics, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("score: empty input")
	}
	if len(labels) != n || len(density) != n || len(focus) != n {
		return nil, fmt.Errorf("score: input lengths disagree (rows=%d labels=%d density=%d focus=%d)",
			n, len(labels), len(density), len(focus))
	}
	if beta < 0 || beta > 1 {
		return nil, fmt.Errorf("score: beta must be in [0,1], got %g", beta)
	}

	alphaEff := alpha
	focusVec := vecmath.MeanMasked(rows, focus)
	if focusVec == nil {
		focusVec = vecmath.Mean(rows)
		alphaEff = alpha * 0.5
	}

	dist, err := vecmath.DistancesTo(rows, focusVec)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}

	proximity := make([]float32, n)
	for i, d := range dist {
		proximity[i] = float32(math.Exp(-alphaEff * float64(d)))
	}

	dmin, dmax := density[0], density[0]
	for _, d := range density[1:] {
		if d < dmin {
			dmin = d
		}
		if d > dmax {
			dmax = d
		}
	}
	denom := float32(1)
	if dmax > dmin {
		denom = dmax - dmin
	}

	score := make([]float32, n)
	for i := range rows {
		sparsity := 1 - (density[i]-dmin)/denom
		if sparsity < 0 {
			sparsity = 0
		} else if sparsity > 1 {
			sparsity = 1
		}

		var mom float32
		if l := labels[i]; l >= 0 && int(l) < len(momentum) {
			mom = momentum[l]
			if mom < 0 {
				mom = 0
			} else if mom > 1 {
				mom = 1
			}
		}
		penalty := 1 - float32(beta)*mom
		if penalty < 0 {
			penalty = 0
		} else if penalty > 1 {
			penalty = 1
		}

		if focus[i] {
			score[i] = 0
			continue
		}
		score[i] = proximity[i] * sparsity * penalty
	}

	return &Metrics{Score: score, Proximity: proximity, Distance: dist, FocusVector: focusVec}, nil
}
