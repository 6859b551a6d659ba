package vecmath

import (
	"math"
	"sort"

	"github.com/x448/float16"
)

// EncodeFloat16 converts a float32 vector into raw float16 bits, halving its
// storage footprint at ~3 decimal digits of precision. Used by the embedding
// arena and the snapshot journal.
func EncodeFloat16(vec []float32) []uint16 {
	out := make([]uint16, len(vec))
	for i, v := range vec {
		out[i] = float16.Fromfloat32(v).Bits()
	}
	return out
}

// DecodeFloat16 expands raw float16 bits back to float32.
func DecodeFloat16(bits []uint16) []float32 {
	out := make([]float32, len(bits))
	for i, b := range bits {
		out[i] = float16.Frombits(b).Float32()
	}
	return out
}

// Quantizer maps float32 vectors onto the symmetric int8 range [-127, 127].
// The range is learned from a training sample rather than taken from the raw
// maximum, so a handful of outlier components cannot blow up the scale.
type Quantizer struct {
	AbsMax float32
}

// trainQuantile excludes the top 0.1% of absolute values when learning the
// quantization range.
const trainQuantile = 0.999

// Train learns AbsMax from a sample of vectors. Training on an empty sample
// leaves the quantizer unusable (AbsMax 0, Quantize returns zero vectors).
func (q *Quantizer) Train(vectors [][]float32) {
	total := 0
	for _, vec := range vectors {
		total += len(vec)
	}
	if total == 0 {
		return
	}
	abs := make([]float32, 0, total)
	for _, vec := range vectors {
		for _, v := range vec {
			abs = append(abs, float32(math.Abs(float64(v))))
		}
	}
	sort.Slice(abs, func(i, j int) bool { return abs[i] < abs[j] })

	at := int(float64(len(abs)) * trainQuantile)
	if at >= len(abs) {
		at = len(abs) - 1
	}
	q.AbsMax = abs[at]
}

// Quantize converts a float32 vector to int8. Values beyond the learned range
// are clipped.
func (q *Quantizer) Quantize(vec []float32) []int8 {
	out := make([]int8, len(vec))
	if q.AbsMax == 0 {
		return out
	}
	for i, v := range vec {
		scaled := (v / q.AbsMax) * 127.0
		if scaled > 127.0 {
			scaled = 127.0
		} else if scaled < -127.0 {
			scaled = -127.0
		}
		out[i] = int8(math.Round(float64(scaled)))
	}
	return out
}

// Dequantize approximately inverts Quantize.
func (q *Quantizer) Dequantize(vec []int8) []float32 {
	out := make([]float32, len(vec))
	if q.AbsMax == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = (float32(v) / 127.0) * q.AbsMax
	}
	return out
}
