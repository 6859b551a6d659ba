package vecmath

import (
	"math"
	"math/rand"
	"testing"
)

func TestQuantizerTraining(t *testing.T) {
	const numVectors = 5000
	const dims = 32

	vectors := make([][]float32, numVectors)
	for i := 0; i < numVectors; i++ {
		vec := make([]float32, dims)
		for j := 0; j < dims; j++ {
			vec[j] = rand.Float32() * 10.0
		}
		vectors[i] = vec
	}

	q := &Quantizer{}
	q.Train(vectors)

	if q.AbsMax <= 0 {
		t.Errorf("expected positive AbsMax, got %f", q.AbsMax)
	}
	t.Logf("training complete, AbsMax: %f", q.AbsMax)
}

func TestQuantizerOutlierRobustness(t *testing.T) {
	// 10,000 values in [0, 1) plus a single huge outlier. The 99.9th
	// percentile range must ignore the outlier almost entirely.
	vec := make([]float32, 10000)
	for i := range vec {
		vec[i] = rand.Float32()
	}
	vec[0] = 1000.0

	q := &Quantizer{}
	q.Train([][]float32{vec})

	if q.AbsMax > 2.0 {
		t.Errorf("AbsMax %f blown up by outlier", q.AbsMax)
	}
}

func TestQuantizerRoundtrip(t *testing.T) {
	train := [][]float32{{-1, -0.5, 0, 0.5, 1}}
	q := &Quantizer{}
	q.Train(train)

	in := []float32{0.25, -0.75, 0.99, -0.01}
	out := q.Dequantize(q.Quantize(in))

	// One quantization step is AbsMax/127; roundtrip error stays within half
	// a step.
	step := float64(q.AbsMax) / 127.0
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > step/2+1e-6 {
			t.Errorf("component %d: %f -> %f (step %f)", i, in[i], out[i], step)
		}
	}
}

func TestQuantizerClipping(t *testing.T) {
	q := &Quantizer{AbsMax: 1.0}
	out := q.Quantize([]float32{5.0, -5.0})
	if out[0] != 127 || out[1] != -127 {
		t.Errorf("out-of-range values must clip to +-127, got %v", out)
	}
}

func TestQuantizerUntrained(t *testing.T) {
	q := &Quantizer{}
	q.Train(nil)
	if q.AbsMax != 0 {
		t.Errorf("training on empty sample must leave AbsMax 0, got %f", q.AbsMax)
	}
	out := q.Quantize([]float32{1, 2, 3})
	for i, v := range out {
		if v != 0 {
			t.Errorf("untrained Quantize[%d] = %d, want 0", i, v)
		}
	}
}
