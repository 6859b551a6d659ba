package vecmath

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/x448/float16"
)

// Helper for comparisons with tolerance
func floatsAreEqual(a, b float64) bool {
	const tolerance = 1e-6
	return math.Abs(a-b) < tolerance
}

func TestImplementations(t *testing.T) {
	// These use Get...Func(), so they exercise whichever kernel is active
	// (pure Go, Gonum, or a tagged SIMD build).

	t.Run("EuclideanF32", func(t *testing.T) {
		fn, _ := GetFloat32Func(Euclidean)
		v1, v2 := []float32{1, 2}, []float32{3, 4}
		expected := 8.0 // (3-1)^2 + (4-2)^2 = 4 + 4 = 8
		dist, _ := fn(v1, v2)
		if !floatsAreEqual(dist, expected) {
			t.Errorf("got %f, want %f", dist, expected)
		}
	})

	t.Run("CosineF32", func(t *testing.T) {
		fn, _ := GetFloat32Func(Cosine)
		v1 := []float32{1, 2, 3}
		NormalizeRows([][]float32{v1})
		v2 := append([]float32{}, v1...)
		expected := 0.0
		dist, _ := fn(v1, v2)
		if !floatsAreEqual(dist, expected) {
			t.Errorf("got %.15f, want %.15f", dist, expected)
		}
	})

	t.Run("CosineF32Orthogonal", func(t *testing.T) {
		fn, _ := GetFloat32Func(Cosine)
		dist, _ := fn([]float32{1, 0}, []float32{0, 1})
		if !floatsAreEqual(dist, 1.0) {
			t.Errorf("got %f, want 1.0", dist)
		}
	})

	t.Run("EuclideanF16", func(t *testing.T) {
		fn, _ := GetFloat16Func(Euclidean)
		v1 := EncodeFloat16([]float32{1, 2})
		v2 := EncodeFloat16([]float32{3, 4})
		expected := 8.0
		dist, _ := fn(v1, v2)
		if !floatsAreEqual(dist, expected) {
			t.Errorf("got %f, want %f", dist, expected)
		}
	})

	t.Run("CosineF16", func(t *testing.T) {
		fn, _ := GetFloat16Func(Cosine)
		v1 := EncodeFloat16([]float32{1, 0, 0})
		v2 := EncodeFloat16([]float32{1, 0, 0})
		dist, _ := fn(v1, v2)
		if !floatsAreEqual(dist, 0.0) {
			t.Errorf("got %f, want 0.0", dist)
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		fn, _ := GetFloat32Func(Cosine)
		if _, err := fn([]float32{1}, []float32{1, 2}); err == nil {
			t.Error("expected error for mismatched lengths")
		}
	})

	t.Run("UnknownMetric", func(t *testing.T) {
		if _, err := GetFloat32Func(Metric("mahalanobis")); err == nil {
			t.Error("expected error for unregistered metric")
		}
	})
}

func TestNormalizeRows(t *testing.T) {
	rows := [][]float32{
		{3, 4},
		{0, 0},
		{1, 1, 1, 1},
	}
	NormalizeRows(rows)

	if !floatsAreEqual(Norm(rows[0]), 1.0) {
		t.Errorf("row 0 norm = %f, want 1", Norm(rows[0]))
	}
	if rows[1][0] != 0 || rows[1][1] != 0 {
		t.Errorf("zero row must stay untouched, got %v", rows[1])
	}
	if !floatsAreEqual(float64(rows[2][0]), 0.5) {
		t.Errorf("row 2 component = %f, want 0.5", rows[2][0])
	}
}

func TestMean(t *testing.T) {
	rows := [][]float32{
		{1, 2},
		{3, 6},
	}
	m := Mean(rows)
	if m == nil {
		t.Fatal("Mean returned nil for non-empty input")
	}
	if !floatsAreEqual(float64(m[0]), 2) || !floatsAreEqual(float64(m[1]), 4) {
		t.Errorf("got %v, want [2 4]", m)
	}

	if Mean(nil) != nil {
		t.Error("Mean(nil) must return nil")
	}
}

func TestMeanMasked(t *testing.T) {
	rows := [][]float32{
		{1, 0},
		{3, 0},
		{100, 100},
	}
	m := MeanMasked(rows, []bool{true, true, false})
	if m == nil {
		t.Fatal("MeanMasked returned nil")
	}
	if !floatsAreEqual(float64(m[0]), 2) || !floatsAreEqual(float64(m[1]), 0) {
		t.Errorf("got %v, want [2 0]", m)
	}

	if MeanMasked(rows, []bool{false, false, false}) != nil {
		t.Error("empty mask selection must return nil")
	}
	if MeanMasked(rows, []bool{true}) != nil {
		t.Error("mask length mismatch must return nil")
	}
}

func TestDistancesTo(t *testing.T) {
	rows := [][]float32{
		{0, 0},
		{3, 4},
	}
	d, err := DistancesTo(rows, []float32{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if !floatsAreEqual(float64(d[0]), 0) || !floatsAreEqual(float64(d[1]), 5) {
		t.Errorf("got %v, want [0 5]", d)
	}

	if _, err := DistancesTo(rows, []float32{1}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestFloat16Roundtrip(t *testing.T) {
	in := []float32{0.125, -2.5, 0.0039, 1.0, -0.75}
	out := DecodeFloat16(EncodeFloat16(in))
	for i := range in {
		// float16 keeps ~3 decimal digits
		if math.Abs(float64(out[i]-in[i])) > 1e-3 {
			t.Errorf("component %d: %f -> %f", i, in[i], out[i])
		}
	}

	bits := float16.Fromfloat32(0.5).Bits()
	if got := DecodeFloat16([]uint16{bits})[0]; got != 0.5 {
		t.Errorf("0.5 must survive exactly, got %f", got)
	}
}

// --- BENCHMARKS ---

func generateVectors(dims int) ([]float32, []float32) {
	v1 := make([]float32, dims)
	v2 := make([]float32, dims)
	for i := 0; i < dims; i++ {
		v1[i] = rand.Float32()
		v2[i] = rand.Float32()
	}
	return v1, v2
}

func BenchmarkFloat32(b *testing.B) {
	eucFunc, _ := GetFloat32Func(Euclidean)
	cosFunc, _ := GetFloat32Func(Cosine)
	dims := []int{64, 256, 768, 1536}

	for _, d := range dims {
		b.Run(fmt.Sprintf("Euclidean_%dD", d), func(b *testing.B) {
			v1, v2 := generateVectors(d)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				eucFunc(v1, v2)
			}
		})

		b.Run(fmt.Sprintf("Cosine_%dD", d), func(b *testing.B) {
			v1, v2 := generateVectors(d)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				cosFunc(v1, v2)
			}
		})
	}
}

func BenchmarkFloat16(b *testing.B) {
	cosFunc, _ := GetFloat16Func(Cosine)
	dims := []int{64, 256, 768, 1536}

	for _, d := range dims {
		b.Run(fmt.Sprintf("Cosine_%dD", d), func(b *testing.B) {
			v1f, v2f := generateVectors(d)
			v1 := EncodeFloat16(v1f)
			v2 := EncodeFloat16(v2f)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				cosFunc(v1, v2)
			}
		})
	}
}
