package overview

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sanonone/lacuna/pkg/stats"
	"github.com/sanonone/lacuna/pkg/vecmath"
)

// Evaluation window limits. The rolling window ends at the newest dated node
// and reaches back up to a year; anything under two months yields too few
// monthly points for a meaningful slope.
const (
	evalWindowDays   = 365
	minWindowDays    = 60
	minRequestedSpan = 180
	maxSeriesBuckets = 12
)

// Attribution caps: how many node ids a rule may cite, and how many the
// fallback pickers take when no node meets the rule's own criteria.
const (
	attributionCap      = 6
	attributionFallback = 5
)

const insufficientHistoryMsg = "Not enough history for this scope."

// windowBounds resolves the rolling window for a group's time series. The
// window ends at the newest dated member, bounded by the request's date_to,
// and reaches back up to evalWindowDays, clamped to the requested start and
// to the oldest dated member. Groups without dates or with a usable span
// under minWindowDays report ok=false.
func windowBounds(req *GraphRequest, nodes []NodeDatum) (start, end time.Time, ok bool) {
	var latest, earliest time.Time
	for _, n := range nodes {
		if n.Date.IsZero() {
			continue
		}
		if latest.IsZero() || n.Date.After(latest) {
			latest = n.Date
		}
		if earliest.IsZero() || n.Date.Before(earliest) {
			earliest = n.Date
		}
	}
	if latest.IsZero() {
		return time.Time{}, time.Time{}, false
	}

	end = latest
	if reqEnd := parseISODate(req.DateTo); !reqEnd.IsZero() && reqEnd.Before(end) {
		end = reqEnd
	}

	reqStart := parseISODate(req.DateFrom)
	if !reqStart.IsZero() && !reqStart.After(end) {
		spanDays := evalWindowDays
		if span := daysBetween(reqStart, end); span > 0 {
			spanDays = span
			if spanDays < minRequestedSpan {
				spanDays = minRequestedSpan
			}
			if spanDays > evalWindowDays {
				spanDays = evalWindowDays
			}
		}
		start = end.AddDate(0, 0, -spanDays)
		if reqStart.After(start) {
			start = reqStart
		}
	} else {
		start = end.AddDate(0, 0, -evalWindowDays)
	}
	if start.Before(earliest) {
		start = earliest
	}
	if daysBetween(start, end) < minWindowDays {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// bridgeInputs are the scalar inputs of the bridge rule plus the interface
// nodes realizing the cross-cluster links, ascending by row index.
type bridgeInputs struct {
	Openness    float64
	InterWeight float64
	MomLeft     float64
	MomRight    float64
	Nodes       []int
}

// computeBridgeInputs measures how connected a group's two largest clusters
// already are. Openness is the share of top-cluster members carrying a
// cross-cluster edge, InterWeight the mean strength of those edges. Groups
// spanning fewer than two clusters return openness 1 so the bridge rule can
// never fire on them.
func computeBridgeInputs(indices []int, labels []int32, nb *vecmath.Neighbors, momentum []float32) bridgeInputs {
	none := bridgeInputs{Openness: 1}
	if len(indices) == 0 {
		return none
	}

	counts := make(map[int32]int)
	for _, i := range indices {
		counts[labels[i]]++
	}
	if len(counts) < 2 {
		return none
	}

	clusters := make([]int32, 0, len(counts))
	for l := range counts {
		clusters = append(clusters, l)
	}
	// Largest first; equal counts go to the lower cluster id.
	sort.Slice(clusters, func(a, b int) bool {
		ca, cb := counts[clusters[a]], counts[clusters[b]]
		if ca != cb {
			return ca > cb
		}
		return clusters[a] < clusters[b]
	})
	c1, c2 := clusters[0], clusters[1]

	inTop := func(l int32) bool { return l == c1 || l == c2 }
	bridgeSet := make(map[int]struct{})
	var weights []float64
	clusterTotal := 0
	for _, i := range indices {
		li := labels[i]
		if !inTop(li) {
			continue
		}
		clusterTotal++
		for pos, j := range nb.Idx[i] {
			if int(j) == i {
				continue
			}
			lj := labels[j]
			if !inTop(lj) || lj == li {
				continue
			}
			weights = append(weights, float64(1-nb.Dist[i][pos]))
			bridgeSet[i] = struct{}{}
		}
	}

	denom := clusterTotal
	if denom < 1 {
		denom = 1
	}
	out := bridgeInputs{
		Openness: float64(len(bridgeSet)) / float64(denom),
	}
	if len(weights) > 0 {
		out.InterWeight = stats.Mean(weights)
	}
	if int(c1) < len(momentum) {
		out.MomLeft = float64(momentum[c1])
	}
	if int(c2) < len(momentum) {
		out.MomRight = float64(momentum[c2])
	}
	out.Nodes = make([]int, 0, len(bridgeSet))
	for i := range bridgeSet {
		out.Nodes = append(out.Nodes, i)
	}
	sort.Ints(out.Nodes)
	return out
}

// nodeAnnotations accumulates per-node attribution while groups are
// evaluated: which rules cite each node, the strongest confidence seen and
// the tooltip of the strongest rule. Later rules win confidence ties, so
// iterating the rules in their fixed order keeps tooltips deterministic.
type nodeAnnotations struct {
	signals   map[string]map[SignalKind]struct{}
	relevance map[string]float64
	tooltips  map[string]string
}

func newNodeAnnotations() *nodeAnnotations {
	return &nodeAnnotations{
		signals:   make(map[string]map[SignalKind]struct{}),
		relevance: make(map[string]float64),
		tooltips:  make(map[string]string),
	}
}

// payload finalizes one evaluated rule into its wire form and records the
// attribution for every cited node. Failed rules still attribute: their
// zero confidence keeps relevance at the default while the kind and tooltip
// remain visible on the node.
func (a *nodeAnnotations) payload(kind SignalKind, res SignalResult, ids []string, withDebug bool) SignalPayload {
	conf := stats.Clip(res.Confidence, 0, 1)
	p := SignalPayload{
		Type:       kind,
		Status:     res.Status(),
		Confidence: conf,
		Why:        res.Message,
		NodeIDs:    ids,
	}
	if withDebug {
		p.Debug = res.Debug
	}
	tooltip := signalLabels[kind] + ": " + res.Message
	for _, id := range ids {
		set := a.signals[id]
		if set == nil {
			set = make(map[SignalKind]struct{})
			a.signals[id] = set
		}
		set[kind] = struct{}{}
		if conf >= a.relevance[id] {
			a.tooltips[id] = tooltip
		}
		if conf > a.relevance[id] {
			a.relevance[id] = conf
		}
	}
	return p
}

// kindsFor returns the rules citing a node, sorted for stable output. Always
// non-nil so the rendered node carries an empty list, not null.
func (a *nodeAnnotations) kindsFor(id string) []SignalKind {
	set := a.signals[id]
	out := make([]SignalKind, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *nodeAnnotations) relevanceFor(id string) float64 { return a.relevance[id] }
func (a *nodeAnnotations) tooltipFor(id string) string    { return a.tooltips[id] }

// groupMeta is the display identity of one aggregation bucket.
type groupMeta struct {
	label     string
	clusterID int // -1 for assignee groups
	terms     []string
	formatted string
}

// buildGroupSignals aggregates node metrics into per-group signal payloads.
//
// Nodes group by assignee in keyword scopes and by cluster in assignee
// scopes. Groups order by size (largest first, label as tie-break) and cap
// at six for cluster grouping, five for assignee grouping. Each surviving
// group is bucketed into calendar months over its rolling window and the
// four rules run over the resulting series. The returned annotations carry
// the per-node attribution for graph rendering.
func buildGroupSignals(req *GraphRequest, nodes []NodeDatum, labels []int32, nb *vecmath.Neighbors, momentum []float32, scopeText string, mode GroupKind, clusterTerms map[int][]string) ([]GroupSignals, *nodeAnnotations) {
	ann := newNodeAnnotations()
	if len(nodes) == 0 {
		return nil, ann
	}

	cohortScores := make([]float64, len(nodes))
	densityValues := make([]float64, len(nodes))
	for i, n := range nodes {
		cohortScores[i] = n.Score
		densityValues[i] = n.Density
	}
	highWS := stats.Quantile(cohortScores, 0.90)
	lowWS := stats.Quantile(cohortScores, 0.40)
	highDensity := stats.Quantile(densityValues, 0.75)

	byGroup := make(map[string][]NodeDatum)
	meta := make(map[string]groupMeta)
	var order []string
	for _, n := range nodes {
		var key string
		if mode == GroupByCluster {
			key = fmt.Sprintf("cluster:%d", n.ClusterID)
			if _, ok := meta[key]; !ok {
				terms := clusterTerms[n.ClusterID]
				if len(terms) > clusterLabelMaxTerms {
					terms = terms[:clusterLabelMaxTerms]
				}
				var formatted string
				if len(terms) > 0 {
					formatted = FormatLabelTerms(terms)
				}
				meta[key] = groupMeta{
					label:     fmt.Sprintf("Cluster %d", n.ClusterID),
					clusterID: n.ClusterID,
					terms:     terms,
					formatted: formatted,
				}
				order = append(order, key)
			}
		} else {
			key = n.Assignee
			if _, ok := meta[key]; !ok {
				meta[key] = groupMeta{label: n.Assignee, clusterID: -1}
				order = append(order, key)
			}
		}
		byGroup[key] = append(byGroup[key], n)
	}

	sort.SliceStable(order, func(a, b int) bool {
		la, lb := len(byGroup[order[a]]), len(byGroup[order[b]])
		if la != lb {
			return la > lb
		}
		return strings.ToLower(meta[order[a]].label) < strings.ToLower(meta[order[b]].label)
	})
	limit := 5
	if mode == GroupByCluster {
		limit = 6
	}
	if len(order) > limit {
		order = order[:limit]
	}

	var payloads []GroupSignals
	for _, key := range order {
		gm := meta[key]
		members := append([]NodeDatum(nil), byGroup[key]...)
		sort.SliceStable(members, func(a, b int) bool {
			if !members[a].Date.Equal(members[b].Date) {
				return members[a].Date.Before(members[b].Date)
			}
			return members[a].ID < members[b].ID
		})

		var summary string
		if mode == GroupByCluster && gm.formatted != "" {
			summary = "Top terms: " + gm.formatted
		}

		start, end, ok := windowBounds(req, members)
		if !ok {
			payloads = append(payloads, insufficientHistoryGroup(gm, scopeText, summary, mode))
			continue
		}

		var window []NodeDatum
		for _, n := range members {
			if n.Date.IsZero() || n.Date.Before(start) || n.Date.After(end) {
				continue
			}
			window = append(window, n)
		}
		if len(window) == 0 {
			continue
		}

		buckets := make(map[time.Time][]NodeDatum)
		for _, n := range window {
			m := monthFloor(n.Date)
			buckets[m] = append(buckets[m], n)
		}
		months := make([]time.Time, 0, len(buckets))
		for m := range buckets {
			months = append(months, m)
		}
		sort.Slice(months, func(a, b int) bool { return months[a].Before(months[b]) })
		if len(months) > maxSeriesBuckets {
			months = months[len(months)-maxSeriesBuckets:]
		}

		var distSeries, shareSeries, overviewSeries, densitySeries, momentumSeries []float64
		nSamples := 0
		var latest []NodeDatum
		for _, m := range months {
			bucket := buckets[m]
			count := float64(len(bucket))
			nSamples += len(bucket)

			var dist, score, density, mom float64
			focusCount := 0
			for _, n := range bucket {
				dist += n.Distance
				score += n.Score
				density += n.Density
				mom += n.Momentum
				if n.IsFocus {
					focusCount++
				}
			}
			distSeries = append(distSeries, dist/count)
			shareSeries = append(shareSeries, float64(focusCount)/count)
			overviewSeries = append(overviewSeries, score/count)
			densitySeries = append(densitySeries, density/count)
			momentumSeries = append(momentumSeries, mom/count)
			latest = bucket
		}

		neighborMomentum := 0.0
		if len(momentumSeries) > 0 {
			neighborMomentum = momentumSeries[len(momentumSeries)-1]
		}

		focusRes := signalFocusShift(distSeries, shareSeries, nSamples)
		emergingRes := signalEmergingGap(overviewSeries, cohortScores, neighborMomentum)
		crowdRes := signalCrowdOut(overviewSeries, densitySeries)

		indices := make([]int, len(members))
		for i, n := range members {
			indices[i] = n.Index
		}
		bi := computeBridgeInputs(indices, labels, nb, momentum)
		bridgeRes := signalBridge(bi.Openness, bi.InterWeight, bi.MomLeft, bi.MomRight)

		focusIDs := nodeIDsByDistance(latest, attributionCap)
		emergingIDs := emergingAttribution(members, highWS)
		crowdIDs := crowdAttribution(latest, highDensity, lowWS)
		bridgeIDs := bridgeAttribution(members, bi.Nodes)

		signals := []SignalPayload{
			ann.payload(SignalEmergingGap, emergingRes, emergingIDs, req.Debug),
			ann.payload(SignalBridge, bridgeRes, bridgeIDs, req.Debug),
			ann.payload(SignalCrowdOut, crowdRes, crowdIDs, req.Debug),
			ann.payload(SignalFocusShift, focusRes, focusIDs, req.Debug),
		}

		var debug map[string]any
		if req.Debug {
			debug = map[string]any{
				"window_start":           start.Format("2006-01-02"),
				"window_end":             end.Format("2006-01-02"),
				"dist_series":            distSeries,
				"share_series":           shareSeries,
				"overview_series":        overviewSeries,
				"density_series":         densitySeries,
				"momentum_series":        momentumSeries,
				"neighbor_momentum":      neighborMomentum,
				"high_ws_threshold":      highWS,
				"low_ws_threshold":       lowWS,
				"high_density_threshold": highDensity,
				"bridge_inputs": map[string]float64{
					"openness":       bi.Openness,
					"inter_weight":   bi.InterWeight,
					"momentum_left":  bi.MomLeft,
					"momentum_right": bi.MomRight,
				},
			}
		}

		g := GroupSignals{
			Assignee:  gm.label,
			K:         scopeText,
			Signals:   signals,
			Summary:   summary,
			Debug:     debug,
			GroupKind: mode,
		}
		if mode == GroupByCluster {
			cid := gm.clusterID
			g.ClusterID = &cid
			if len(gm.terms) > 0 {
				g.LabelTerms = gm.terms
			}
		}
		payloads = append(payloads, g)
	}
	return payloads, ann
}

// insufficientHistoryGroup emits all four rules in neutral form for a group
// whose window is too short to evaluate.
func insufficientHistoryGroup(gm groupMeta, scopeText, summary string, mode GroupKind) GroupSignals {
	signals := make([]SignalPayload, 0, len(signalOrder))
	for _, kind := range signalOrder {
		signals = append(signals, SignalPayload{
			Type:    kind,
			Status:  StatusNone,
			Why:     insufficientHistoryMsg,
			NodeIDs: []string{},
		})
	}
	g := GroupSignals{
		Assignee:  gm.label,
		K:         scopeText,
		Signals:   signals,
		Summary:   summary,
		GroupKind: mode,
	}
	if mode == GroupByCluster {
		cid := gm.clusterID
		g.ClusterID = &cid
		if len(gm.terms) > 0 {
			g.LabelTerms = gm.terms
		}
	}
	return g
}

// nodeIDsByDistance cites the nodes closest to the focus vector first.
func nodeIDsByDistance(nodes []NodeDatum, limit int) []string {
	picked := append([]NodeDatum(nil), nodes...)
	sort.SliceStable(picked, func(a, b int) bool { return picked[a].Distance < picked[b].Distance })
	if len(picked) > limit {
		picked = picked[:limit]
	}
	return nodeIDs(picked)
}

// emergingAttribution picks the nodes that best illustrate an emerging gap:
// high scorers still close to the focus area, or the plain top scorers when
// none qualify.
func emergingAttribution(members []NodeDatum, highWS float64) []string {
	var picked []NodeDatum
	for _, n := range members {
		if n.Score >= highWS && n.Proximity >= 0.4 {
			picked = append(picked, n)
		}
	}
	if len(picked) == 0 {
		picked = append([]NodeDatum(nil), members...)
		sort.SliceStable(picked, func(a, b int) bool { return picked[a].Score > picked[b].Score })
		if len(picked) > attributionFallback {
			picked = picked[:attributionFallback]
		}
	}
	if len(picked) > attributionCap {
		picked = picked[:attributionCap]
	}
	return nodeIDs(picked)
}

// crowdAttribution picks dense low-score nodes from the latest bucket; when
// none qualify it falls back to the densest members, lowest score first on
// ties.
func crowdAttribution(latest []NodeDatum, highDensity, lowWS float64) []string {
	var picked []NodeDatum
	for _, n := range latest {
		if n.Density >= highDensity && n.Score <= lowWS {
			picked = append(picked, n)
		}
	}
	if len(picked) == 0 {
		picked = append([]NodeDatum(nil), latest...)
		sort.SliceStable(picked, func(a, b int) bool {
			if picked[a].Density != picked[b].Density {
				return picked[a].Density > picked[b].Density
			}
			return picked[a].Score < picked[b].Score
		})
		if len(picked) > attributionFallback {
			picked = picked[:attributionFallback]
		}
	}
	if len(picked) > attributionCap {
		picked = picked[:attributionCap]
	}
	return nodeIDs(picked)
}

// bridgeAttribution maps interface node indices back to member ids.
func bridgeAttribution(members []NodeDatum, indices []int) []string {
	byIndex := make(map[int]string, len(members))
	for _, n := range members {
		byIndex[n.Index] = n.ID
	}
	ids := make([]string, 0, len(indices))
	for _, idx := range indices {
		if id, ok := byIndex[idx]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func nodeIDs(nodes []NodeDatum) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
