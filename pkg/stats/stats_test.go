package stats

import (
	"math"
	"testing"
)

func almost(t *testing.T, got, want, tol float64, label string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v (tol %v)", label, got, want, tol)
	}
}

func TestSlopeConf(t *testing.T) {
	t.Run("TooShort", func(t *testing.T) {
		s, tv := SlopeConf([]float64{1})
		if s != 0 || tv != 0 {
			t.Errorf("got (%f, %f), want (0, 0)", s, tv)
		}
	})

	t.Run("PerfectLine", func(t *testing.T) {
		// y = x + 1 over a standardized axis has slope sqrt(2) and nearly
		// zero residuals, so the confidence proxy blows up.
		s, tv := SlopeConf([]float64{1, 2, 3, 4, 5})
		almost(t, s, math.Sqrt2, 1e-6, "slope")
		if tv < 1e6 {
			t.Errorf("t-value %f too small for a perfect fit", tv)
		}
	})

	t.Run("ZigZag", func(t *testing.T) {
		s, tv := SlopeConf([]float64{1, 2, 1, 2, 1})
		almost(t, s, 0, 1e-9, "slope")
		almost(t, tv, 0, 1e-6, "t-value")
	})

	t.Run("NoisyTrend", func(t *testing.T) {
		// Hand-computed: slope 1.4534, residuals [0.2,-0.1,-0.4,0.3],
		// se 0.13693, t 10.6145.
		s, tv := SlopeConf([]float64{0, 1, 2, 4})
		almost(t, s, 1.4534441854, 1e-6, "slope")
		almost(t, tv, 10.6145, 1e-3, "t-value")
	})

	t.Run("Decline", func(t *testing.T) {
		s, _ := SlopeConf([]float64{5, 4, 3, 2, 1})
		almost(t, s, -math.Sqrt2, 1e-6, "slope")
	})
}

func TestOLSSlope(t *testing.T) {
	if s := OLSSlope([]float64{3}); s != 0 {
		t.Errorf("short series slope = %f, want 0", s)
	}
	almost(t, OLSSlope([]float64{1, 3, 5, 7}), 2, 1e-9, "slope")
	almost(t, OLSSlope([]float64{4, 4, 4}), 0, 1e-9, "flat slope")
}

func TestPctRank(t *testing.T) {
	ref := []float64{1, 2, 3, 4}
	almost(t, PctRank(3, ref), 0.75, 1e-9, "rank(3)")
	almost(t, PctRank(0, ref), 0, 1e-9, "rank(0)")
	almost(t, PctRank(5, ref), 1, 1e-9, "rank(5)")
	almost(t, PctRank(1, nil), 0, 1e-9, "empty ref")
}

func TestQuantile(t *testing.T) {
	v := []float64{1, 2, 3, 4}
	almost(t, Quantile(v, 0.9), 3.7, 1e-9, "q90")
	almost(t, Quantile(v, 0.4), 2.2, 1e-9, "q40")
	almost(t, Quantile(v, 0), 1, 1e-9, "q0")
	almost(t, Quantile(v, 1), 4, 1e-9, "q1")
	almost(t, Quantile([]float64{7}, 0.5), 7, 1e-9, "single")
	almost(t, Quantile(nil, 0.5), 0, 1e-9, "empty")

	// Input order must not matter.
	almost(t, Quantile([]float64{4, 1, 3, 2}, 0.9), 3.7, 1e-9, "unsorted")
}

func TestStdDev(t *testing.T) {
	// Population deviation: sqrt(mean of squared deviations).
	almost(t, StdDev([]float64{0, 1, 2, 3, 4}), math.Sqrt2, 1e-9, "stddev")
	almost(t, StdDev([]float64{5, 5, 5}), 0, 1e-9, "constant")
	almost(t, StdDev(nil), 0, 1e-9, "empty")
}

func TestClip(t *testing.T) {
	almost(t, Clip(1.5, 0, 1), 1, 1e-9, "above")
	almost(t, Clip(-0.5, 0, 1), 0, 1e-9, "below")
	almost(t, Clip(0.5, 0, 1), 0.5, 1e-9, "inside")
}
