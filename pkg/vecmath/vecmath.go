// Package vecmath provides the float32 vector kernels used by the overview
// pipeline: cosine and Euclidean distances, row normalization, centroid
// helpers and a brute-force KNN built on top of a BLAS Gram matrix.
//
// The package keeps the same dispatch scheme across precisions (float32,
// float16, int8): a catalog of default pure Go implementations, overridden at
// init time with Gonum BLAS versions, and optionally with AVX2 kernels
// generated by ./gen when the build carries the "simd" tag.
package vecmath

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

func init() {
	// Gonum handles SIMD dispatch internally, so it is always preferred for
	// the float32 hot paths. Tagged builds may override further.
	float32Funcs[Cosine] = cosineDistanceGonum
	float32Funcs[Euclidean] = squaredEuclideanGonum

	slog.Debug("lacuna compute engine initialized",
		"engine", "gonum",
		"avx2", cpuid.CPU.Has(cpuid.AVX2),
		"f16c", cpuid.CPU.Has(cpuid.F16C),
	)
}

// Metric identifies a distance function family.
type Metric string

const (
	// Cosine is the cosine distance (1 - dot product on normalized vectors).
	Cosine Metric = "cosine"
	// Euclidean is the squared Euclidean distance.
	Euclidean Metric = "euclidean"
)

// DistanceFuncF32 computes a distance between two float32 vectors.
type DistanceFuncF32 func(a, b []float32) (float64, error)

// DistanceFuncF16 computes a distance between two float16 vectors stored as
// raw uint16 bits.
type DistanceFuncF16 func(a, b []uint16) (float64, error)

var errLengthMismatch = errors.New("vectors must have the same length")

// workspace pools intermediate buffers so the per-request distance loops do
// not allocate. 1536 covers the common embedding dimensionalities.
var workspace = sync.Pool{
	New: func() interface{} {
		s := make([]float32, 1536)
		return &s
	},
}

var blasEngine = gonum.Implementation{}

// --- Pure Go reference implementations ---

func dotGo(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return float64(sum), nil
}

func cosineDistanceGo(a, b []float32) (float64, error) {
	dot, err := dotGo(a, b)
	if err != nil {
		return 0, err
	}
	return 1.0 - dot, nil
}

func squaredEuclideanGo(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float64(sum), nil
}

func cosineDistanceGoF16(a, b []uint16) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var sum float32
	for i := range a {
		sum += float16.Frombits(a[i]).Float32() * float16.Frombits(b[i]).Float32()
	}
	return 1.0 - float64(sum), nil
}

func squaredEuclideanGoF16(a, b []uint16) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var sum float32
	for i := range a {
		d := float16.Frombits(a[i]).Float32() - float16.Frombits(b[i]).Float32()
		sum += d * d
	}
	return float64(sum), nil
}

// --- Gonum BLAS implementations ---

func cosineDistanceGonum(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	dot := blasEngine.Sdot(len(a), a, 1, b, 1)
	return 1.0 - float64(dot), nil
}

func squaredEuclideanGonum(a, b []float32) (float64, error) {
	n := len(a)
	if n != len(b) {
		return 0, errLengthMismatch
	}
	diffPtr := workspace.Get().(*[]float32)
	defer workspace.Put(diffPtr)
	if cap(*diffPtr) < n {
		*diffPtr = make([]float32, n)
	}
	diff := (*diffPtr)[:n]

	copy(diff, a)
	blasEngine.Saxpy(n, -1, b, 1, diff, 1)
	dot := blasEngine.Sdot(n, diff, 1, diff, 1)
	return float64(dot), nil
}

// --- Catalogs and dispatchers ---

var float32Funcs = map[Metric]DistanceFuncF32{
	Cosine:    cosineDistanceGo,
	Euclidean: squaredEuclideanGo,
}

var float16Funcs = map[Metric]DistanceFuncF16{
	Cosine:    cosineDistanceGoF16,
	Euclidean: squaredEuclideanGoF16,
}

// GetFloat32Func returns the distance function registered for the metric at
// float32 precision.
func GetFloat32Func(metric Metric) (DistanceFuncF32, error) {
	fn, ok := float32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float32 precision", metric)
	}
	return fn, nil
}

// GetFloat16Func returns the distance function registered for the metric at
// float16 precision.
func GetFloat16Func(metric Metric) (DistanceFuncF16, error) {
	fn, ok := float16Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float16 precision", metric)
	}
	return fn, nil
}

// --- Row helpers used by the overview pipeline ---

// NormalizeRows L2-normalizes every row in place. Rows with zero norm are
// left untouched (treated as having norm 1), so downstream cosine math never
// divides by zero.
func NormalizeRows(rows [][]float32) {
	for _, row := range rows {
		var sum float32
		for _, v := range row {
			sum += v * v
		}
		if sum == 0 {
			continue
		}
		inv := float32(1.0 / math.Sqrt(float64(sum)))
		blasEngine.Sscal(len(row), inv, row, 1)
	}
}

// Mean returns the component-wise mean of the rows, or nil when rows is
// empty.
func Mean(rows [][]float32) []float32 {
	if len(rows) == 0 {
		return nil
	}
	dim := len(rows[0])
	out := make([]float32, dim)
	for _, row := range rows {
		blasEngine.Saxpy(dim, 1, row, 1, out, 1)
	}
	blasEngine.Sscal(dim, 1/float32(len(rows)), out, 1)
	return out
}

// MeanMasked returns the mean of the rows whose mask entry is true, or nil
// when the mask selects nothing.
func MeanMasked(rows [][]float32, mask []bool) []float32 {
	if len(rows) == 0 || len(mask) != len(rows) {
		return nil
	}
	dim := len(rows[0])
	out := make([]float32, dim)
	count := 0
	for i, row := range rows {
		if !mask[i] {
			continue
		}
		blasEngine.Saxpy(dim, 1, row, 1, out, 1)
		count++
	}
	if count == 0 {
		return nil
	}
	blasEngine.Sscal(dim, 1/float32(count), out, 1)
	return out
}

// DistancesTo computes the Euclidean (not squared) distance from every row to
// the target vector.
func DistancesTo(rows [][]float32, target []float32) ([]float32, error) {
	out := make([]float32, len(rows))
	for i, row := range rows {
		sq, err := squaredEuclideanGonum(row, target)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = float32(math.Sqrt(sq))
	}
	return out, nil
}

// Norm returns the L2 norm of the vector.
func Norm(v []float32) float64 {
	dot := blasEngine.Sdot(len(v), v, 1, v, 1)
	return math.Sqrt(float64(dot))
}
