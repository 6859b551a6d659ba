//go:build simd && amd64

package vecmath

import (
	"errors"
	"log/slog"

	"github.com/klauspost/cpuid/v2"
)

// Kernels below are emitted by ./gen (go generate ./pkg/vecmath) and only
// linked when the build carries the "simd" tag.

//go:generate go run ./gen -out ./kernels_avo.s

// DotFloat16AVX2 computes the dot product of two float16 vectors (raw uint16
// bits) using AVX2 + F16C.
func DotFloat16AVX2(v1, v2 []uint16) float32

func cosineDistanceF16AVX2(a, b []uint16) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("vectors must have the same length")
	}
	if len(a) == 0 {
		return 1, nil
	}
	return 1.0 - float64(DotFloat16AVX2(a, b)), nil
}

func init() {
	if cpuid.CPU.Has(cpuid.AVX2) && cpuid.CPU.Has(cpuid.F16C) {
		float16Funcs[Cosine] = cosineDistanceF16AVX2
		slog.Debug("lacuna compute engine: AVX2 float16 kernels enabled")
	}
}
