// Package layout projects normalized embedding rows onto 2D display
// coordinates.
//
// Two strategies share one interface: PCA, a plain SVD projection used as the
// cheap fallback, and NeighborEmbedding, a seeded stochastic neighbor layout
// that preserves local structure at the cost of more work. Both are
// deterministic for a fixed input and seed.
package layout

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Strategy computes one [x, y] pair per input row.
type Strategy interface {
	Coordinates(rows [][]float32) ([][2]float32, error)
	Name() string
}

// PCA projects mean-centered rows onto their two leading principal
// components.
type PCA struct{}

func (PCA) Name() string { return "pca" }

func (PCA) Coordinates(rows [][]float32) ([][2]float32, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("layout: no rows")
	}
	dim := len(rows[0])
	if dim == 0 {
		return nil, fmt.Errorf("layout: zero-dimensional rows")
	}

	centered, err := centerMatrix(rows)
	if err != nil {
		return nil, err
	}

	out := make([][2]float32, n)
	if n == 1 {
		// A single centered row is the origin.
		return out, nil
	}
	if dim == 1 {
		for i := 0; i < n; i++ {
			out[i][0] = float32(centered.At(i, 0))
		}
		return out, nil
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThinV); !ok {
		return nil, fmt.Errorf("layout: SVD failed to converge")
	}
	var v mat.Dense
	svd.VTo(&v)

	// scores = centered * V[:, 0:2]
	lead := v.Slice(0, dim, 0, 2)
	var scores mat.Dense
	scores.Mul(centered, lead)

	for i := 0; i < n; i++ {
		out[i][0] = float32(scores.At(i, 0))
		out[i][1] = float32(scores.At(i, 1))
	}
	return out, nil
}

func centerMatrix(rows [][]float32) (*mat.Dense, error) {
	n := len(rows)
	dim := len(rows[0])
	mu := make([]float64, dim)
	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("layout: row %d has dimension %d, want %d", i, len(row), dim)
		}
		for j, val := range row {
			mu[j] += float64(val)
		}
	}
	for j := range mu {
		mu[j] /= float64(n)
	}
	data := make([]float64, n*dim)
	for i, row := range rows {
		for j, val := range row {
			data[i*dim+j] = float64(val) - mu[j]
		}
	}
	return mat.NewDense(n, dim, data), nil
}
