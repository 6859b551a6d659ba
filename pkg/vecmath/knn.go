package vecmath

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/blas"
)

// Neighbors holds a dense K-nearest-neighbor result. Dist rows are sorted
// ascending; ties are broken by the lower row index so repeated runs over the
// same input produce identical output. Row position 0 is normally the query
// row itself (distance 0): consumers must skip self explicitly.
type Neighbors struct {
	K    int
	Dist [][]float32
	Idx  [][]int32
}

// gramBlock bounds the scratch similarity buffer to blockRows x N floats.
const gramBlock = 256

// KNNCosine runs an exact brute-force cosine KNN over L2-normalized rows.
// Cosine distance on normalized data reduces to 1 - dot, so the whole
// pairwise computation is a Gram matrix, evaluated in row blocks through
// BLAS Sgemm.
func KNNCosine(rows [][]float32, k int) (*Neighbors, error) {
	n := len(rows)
	if n == 0 {
		return nil, fmt.Errorf("knn: empty input")
	}
	if k < 1 {
		return nil, fmt.Errorf("knn: k must be >= 1, got %d", k)
	}
	if k > n {
		return nil, fmt.Errorf("knn: k (%d) exceeds population (%d)", k, n)
	}
	dim := len(rows[0])
	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("knn: row %d has dimension %d, want %d", i, len(row), dim)
		}
	}

	flat := make([]float32, n*dim)
	for i, row := range rows {
		copy(flat[i*dim:(i+1)*dim], row)
	}

	nb := &Neighbors{
		K:    k,
		Dist: make([][]float32, n),
		Idx:  make([][]int32, n),
	}

	blockRows := gramBlock
	if blockRows > n {
		blockRows = n
	}
	sims := make([]float32, blockRows*n)
	order := make([]int32, n)

	for start := 0; start < n; start += blockRows {
		end := start + blockRows
		if end > n {
			end = n
		}
		m := end - start
		// sims[r][c] = rows[start+r] . rows[c]
		blasEngine.Sgemm(blas.NoTrans, blas.Trans,
			m, n, dim,
			1, flat[start*dim:], dim,
			flat, dim,
			0, sims[:m*n], n)

		for r := 0; r < m; r++ {
			simRow := sims[r*n : (r+1)*n]
			for c := range order {
				order[c] = int32(c)
			}
			sort.SliceStable(order, func(a, b int) bool {
				da := 1 - simRow[order[a]]
				db := 1 - simRow[order[b]]
				if da != db {
					return da < db
				}
				return order[a] < order[b]
			})
			distRow := make([]float32, k)
			idxRow := make([]int32, k)
			for j := 0; j < k; j++ {
				idxRow[j] = order[j]
				distRow[j] = 1 - simRow[order[j]]
			}
			nb.Dist[start+r] = distRow
			nb.Idx[start+r] = idxRow
		}
	}
	return nb, nil
}

// LocalDensity returns mean(1 - dist) per row, the self column included.
// Higher values mean the node sits in a tighter neighborhood.
func LocalDensity(nb *Neighbors) []float32 {
	out := make([]float32, len(nb.Dist))
	for i, row := range nb.Dist {
		if len(row) == 0 {
			continue
		}
		var sum float32
		for _, d := range row {
			sum += 1 - d
		}
		out[i] = sum / float32(len(row))
	}
	return out
}
