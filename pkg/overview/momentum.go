package overview

import "time"

// momentumWindowDays is the recency split used for cluster momentum. Filings
// inside the window count +1, everything else (undated rows included) -0.25.
const momentumWindowDays = 90

// ClusterMomentum computes the per-cluster recency momentum in [0,1].
//
// The cutoff is the latest candidate date minus the window. Each cluster sums
// +1 for members on or after the cutoff and -0.25 otherwise, floored at zero,
// and the resulting array is normalized by its global maximum. Clusters
// without members stay 0. When no candidate carries a date the result is all
// zeros sized max(label)+1.
func ClusterMomentum(dates []time.Time, labels []int32) []float32 {
	maxLabel := int32(-1)
	for _, l := range labels {
		if l > maxLabel {
			maxLabel = l
		}
	}
	if maxLabel < 0 {
		return nil
	}
	out := make([]float32, maxLabel+1)

	var latest time.Time
	for _, d := range dates {
		if !d.IsZero() && d.After(latest) {
			latest = d
		}
	}
	if latest.IsZero() {
		return out
	}
	cutoff := latest.AddDate(0, 0, -momentumWindowDays)

	sums := make([]float64, maxLabel+1)
	for i, l := range labels {
		if l < 0 {
			continue
		}
		if !dates[i].IsZero() && !dates[i].Before(cutoff) {
			sums[l] += 1.0
		} else {
			sums[l] -= 0.25
		}
	}

	var peak float64
	for i, s := range sums {
		if s < 0 {
			s = 0
		}
		sums[i] = s
		if s > peak {
			peak = s
		}
	}
	if peak > 0 {
		for i, s := range sums {
			out[i] = float32(s / peak)
		}
	}
	return out
}
