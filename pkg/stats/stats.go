// Package stats implements the small statistical toolkit shared by the
// overview signal rules and the scope summary: least-squares slopes with a
// t-statistic style confidence proxy, percentile ranks and linearly
// interpolated quantiles.
//
// All helpers use the population (N denominator) standard deviation. The
// signal thresholds were tuned against that convention, so swapping in a
// sample deviation would shift every confidence value.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}

// StdDev returns the population standard deviation, 0 for an empty slice.
func StdDev(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	m := stat.Mean(v, nil)
	var sum float64
	for _, x := range v {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v)))
}

// Clip bounds v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SlopeConf fits a line over a standardized time axis (index 0..n-1, centered
// and scaled by the population deviation) and returns the slope together with
// |slope/se|, a t-statistic style confidence proxy. Standardizing the axis
// makes slopes comparable across series of different lengths. Series shorter
// than 2 points return (0, 0).
func SlopeConf(series []float64) (slope, tValue float64) {
	n := len(series)
	if n < 2 {
		return 0, 0
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	xm := stat.Mean(x, nil)
	sd := StdDev(x)
	for i := range x {
		x[i] = (x[i] - xm) / (sd + 1e-9)
	}

	intercept, beta := stat.LinearRegression(x, series, nil, false)

	var sumXX float64
	resid := make([]float64, n)
	for i := range x {
		resid[i] = series[i] - (beta*x[i] + intercept)
		sumXX += x[i] * x[i]
	}
	se := (StdDev(resid) + 1e-9) / math.Sqrt(sumXX)
	return beta, math.Abs(beta / se)
}

// OLSSlope returns the unstandardized least-squares slope of the series over
// the index axis 0..n-1. Series shorter than 2 points return 0.
func OLSSlope(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	x := make([]float64, len(series))
	for i := range x {
		x[i] = float64(i)
	}
	_, beta := stat.LinearRegression(x, series, nil, false)
	return beta
}

// PctRank returns the fraction of ref values that are <= value. An empty
// reference yields 0.
func PctRank(value float64, ref []float64) float64 {
	if len(ref) == 0 {
		return 0
	}
	count := 0
	for _, r := range ref {
		if r <= value {
			count++
		}
	}
	return float64(count) / float64(len(ref))
}

// Quantile returns the q-th quantile (0..1) of values using linear
// interpolation between the two nearest order statistics. Returns 0 for an
// empty slice.
func Quantile(values []float64, q float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
