// Package overview implements the whitespace overview engine: it turns a
// scoped set of embedded patent documents into a KNN similarity graph,
// detects communities, scores per-node whitespace, projects a 2D layout and
// evaluates four statistical signals over per-group time series.
package overview

import (
	"github.com/sanonone/lacuna/pkg/stats"
)

// SignalKind identifies one of the four signal rules.
type SignalKind string

const (
	SignalFocusShift  SignalKind = "focus_shift"
	SignalEmergingGap SignalKind = "emerging_gap"
	SignalCrowdOut    SignalKind = "crowd_out"
	SignalBridge      SignalKind = "bridge"
)

// SignalStatus is the coarse strength bucket shown to users.
type SignalStatus string

const (
	StatusNone   SignalStatus = "none"
	StatusWeak   SignalStatus = "weak"
	StatusMedium SignalStatus = "medium"
	StatusStrong SignalStatus = "strong"
)

// signalOrder fixes the payload order inside every group.
var signalOrder = [...]SignalKind{SignalEmergingGap, SignalBridge, SignalCrowdOut, SignalFocusShift}

// signalLabels are the display names used in node tooltips.
var signalLabels = map[SignalKind]string{
	SignalFocusShift:  "Convergence Toward Focus Area",
	SignalEmergingGap: "Focus Area With Neighbor Underdevelopment",
	SignalCrowdOut:    "Sharply Rising Density Near Focus Area",
	SignalBridge:      "Neighbor Linking Potential Near Focus Area",
}

// SignalResult is the outcome of evaluating a single rule. Debug carries the
// rule's intermediate values for diagnostic responses.
type SignalResult struct {
	OK         bool
	Confidence float64
	Message    string
	Debug      map[string]float64
}

// Status maps the confidence to a discrete bucket.
func (r SignalResult) Status() SignalStatus {
	if !r.OK || r.Confidence <= 0 {
		return StatusNone
	}
	if r.Confidence >= 0.66 {
		return StatusStrong
	}
	if r.Confidence >= 0.33 {
		return StatusMedium
	}
	return StatusWeak
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// signalFocusShift detects whether recent filings converge toward the focus
// area: distance to the focus vector shrinking while the focus share of the
// portfolio grows.
func signalFocusShift(distSeries, shareSeries []float64, nSamples int) SignalResult {
	if len(distSeries) < 3 || len(shareSeries) < 3 || nSamples < 4 {
		return SignalResult{
			OK:      false,
			Message: "Not enough recent filings to judge movement toward focus input(s).",
			Debug:   map[string]float64{"samples": float64(nSamples)},
		}
	}

	negDist := make([]float64, len(distSeries))
	for i, d := range distSeries {
		negDist[i] = -d
	}
	// Positive slope on the negated series means distance is decreasing.
	sDist, tDist := stats.SlopeConf(negDist)
	sShare, tShare := stats.SlopeConf(shareSeries)

	distUp := sDist > 0
	shareUp := sShare > 0
	softDist := sDist > -0.02
	softShare := sShare > -0.02
	trendVotes := 0
	if distUp {
		trendVotes++
	}
	if shareUp {
		trendVotes++
	}
	ok := trendVotes >= 1 && softDist && softShare

	conf := min(1.0, 0.5*(max(0.0, tDist)+max(0.0, tShare))) * min(1.0, float64(nSamples)/40.0)
	if trendVotes == 1 {
		conf *= 0.6
	}
	conf = stats.Clip(conf, 0, 1)

	var message string
	switch {
	case !ok:
		conf = 0
		message = "Assignee's recent filings are anchored in prior subject matter scope; no persistent convergence toward focus input(s) is evident. Higher whitespace potential."
	case trendVotes == 1:
		message = "Assignee's recent filings are converging toward focus input(s), but no clear pattern across volume and subject matter. Moderate whitespace potential."
	default:
		message = "Assignee's recent filings converge around focus input(s) and now comprise a growing share of Assignee's portfolio. Lower whitespace potential."
	}

	return SignalResult{OK: ok, Confidence: conf, Message: message, Debug: map[string]float64{
		"slope_dist":  sDist,
		"slope_share": sShare,
		"t_dist":      tDist,
		"t_share":     tShare,
		"samples":     float64(nSamples),
		"trend_votes": float64(trendVotes),
		"soft_dist":   boolMetric(softDist),
		"soft_share":  boolMetric(softShare),
	}}
}

// signalEmergingGap flags a group sitting in a sparse pocket while nearby
// activity heats up.
func signalEmergingGap(overviewSeries, cohortScores []float64, neighborMomentum float64) SignalResult {
	if len(overviewSeries) == 0 {
		return SignalResult{
			OK:      false,
			Message: "No overview scores available for this scope.",
			Debug:   map[string]float64{"momentum": neighborMomentum},
		}
	}

	currentScore := overviewSeries[len(overviewSeries)-1]
	percentile := stats.PctRank(currentScore, cohortScores)
	strongSparse := percentile >= 0.95
	heatedNeighbors := neighborMomentum > 0.2
	ok := (percentile >= 0.85 && heatedNeighbors) || strongSparse

	conf := stats.Clip(0.55*percentile+0.45*max(0.0, neighborMomentum), 0, 1)
	if ok && !heatedNeighbors {
		conf *= 0.75
	}

	var message string
	switch {
	case !ok:
		conf = 0
		message = "Assignee's recent filings overlap or nearly overlap with subject matter area(s) already covered by other assignees' filings near focus input(s). Low whitespace potential near focus input(s)."
	case heatedNeighbors:
		message = "Assignee's recent filings are directed to lower-density subject matter areas near focus input(s); other assignees' filings are markedly increasing. Moderate whitespace potential remains, but rising momentum indicates the window is closing."
	default:
		message = "Assignee's recent filings are directed to lower-density subject matter areas near focus input(s); no clear pattern is emerging in other assignees' filings. Higher whitespace potential."
	}

	return SignalResult{OK: ok, Confidence: conf, Message: message, Debug: map[string]float64{
		"current_score":     currentScore,
		"percentile":        percentile,
		"neighbor_momentum": neighborMomentum,
		"strong_sparse":     boolMetric(strongSparse),
		"heated_neighbors":  boolMetric(heatedNeighbors),
	}}
}

// signalCrowdOut warns when whitespace is collapsing while density rises.
func signalCrowdOut(overviewSeries, densitySeries []float64) SignalResult {
	if len(overviewSeries) < 2 || len(densitySeries) < 2 {
		return SignalResult{
			OK:      false,
			Message: "Insufficient history to spot a crowd-out trend.",
			Debug:   map[string]float64{},
		}
	}

	slopeWS, tWS := stats.SlopeConf(overviewSeries)
	slopeDen, tDen := stats.SlopeConf(densitySeries)

	recentWS := overviewSeries[len(overviewSeries)-1]
	startWS := overviewSeries[0]
	recentDensity := densitySeries[len(densitySeries)-1]
	startDensity := densitySeries[0]

	wsDecline := slopeWS < -0.002 || recentWS < startWS-0.05
	densityGain := slopeDen > 0.002 || recentDensity > startDensity+0.05
	crowdedNow := recentWS <= stats.Quantile(overviewSeries, 0.35) &&
		recentDensity >= stats.Quantile(densitySeries, 0.65)

	ok := (wsDecline && densityGain) || (crowdedNow && (densityGain || slopeDen >= -0.001))

	conf := min(1.0, 0.45*(max(0.0, tDen)+abs(tWS)))
	if !(wsDecline && densityGain) && ok {
		conf *= 0.7
	}
	conf = stats.Clip(conf, 0, 1)

	var message string
	switch {
	case !ok:
		conf = 0
		message = "Assignee's recent filings leave some latitude around focus input(s); no patterns indicative of significant crowd-out pressure. Higher whitespace potential exists."
	case wsDecline && densityGain:
		message = "Assignee's recent filings are markedly increasing around focus input(s), reducing available overview and concentrating coverage. Moderate whitespace potential exists (caution)."
	default:
		message = "Assignee's recent filings are recently concentrated around focus input(s), which is already densely populated. Low whitespace potential exists."
	}

	return SignalResult{OK: ok, Confidence: conf, Message: message, Debug: map[string]float64{
		"slope_ws":       slopeWS,
		"slope_density":  slopeDen,
		"t_ws":           tWS,
		"t_density":      tDen,
		"ws_decline":     boolMetric(wsDecline),
		"density_gain":   boolMetric(densityGain),
		"crowded_now":    boolMetric(crowdedNow),
		"recent_ws":      recentWS,
		"recent_density": recentDensity,
	}}
}

// signalBridge spots two rising clusters inside a group that are barely
// linked to each other: a candidate corridor to connect them.
func signalBridge(openness, interWeight, momLeft, momRight float64) SignalResult {
	const (
		momentumFloor = 0.2
		opennessLimit = 0.35
		weightTarget  = 0.5
	)
	sharedGrowth := min(momLeft, momRight) >= momentumFloor
	avgGrowth := (momLeft + momRight) / 2
	balancedGrowth := sharedGrowth || (avgGrowth >= 0.45 && min(momLeft, momRight) >= 0.15)

	ok := openness <= opennessLimit && interWeight >= weightTarget && balancedGrowth
	conf := stats.Clip(min(momLeft, momRight)*interWeight, 0, 1)
	if ok && !sharedGrowth {
		conf *= 0.85
	}

	var message string
	switch {
	case !ok:
		conf = 0
		message = "Recent filings in subject matter area(s) near focus input(s) are weakly connected and/or exhibit low filing momentum(s). Higher whitespace potential to link subject matter area(s) near focus input(s)."
	case sharedGrowth:
		message = "Higher momentum(s) for recent filings in neighboring/related subject matter area(s) near focus input(s), but low/no links connect the recent filings with higher momentum(s). Moderate whitespace potential remains."
	default:
		message = "Asymmetric momentum patterns shown by recent filings in neighboring/related subject matter area(s) near focus input(s), and neighboring/related subject matter area(s) near focus input(s) have some existing links. Lower whitespace potential exists."
	}

	return SignalResult{OK: ok, Confidence: conf, Message: message, Debug: map[string]float64{
		"openness":        openness,
		"inter_weight":    interWeight,
		"momentum_left":   momLeft,
		"momentum_right":  momRight,
		"balanced_growth": boolMetric(balancedGrowth),
		"shared_growth":   boolMetric(sharedGrowth),
	}}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
