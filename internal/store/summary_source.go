package store

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/sanonone/lacuna/pkg/overview"
	"github.com/sanonone/lacuna/pkg/vecmath"
)

// cpcRollupLimit caps the per-scope CPC breakdown.
const cpcRollupLimit = 15

// SemanticNeighbors implements overview.SummarySource: a brute-force cosine
// scan of the active model's embeddings restricted to the scope's date and
// CPC filter, ascending by distance. Keywords are deliberately not applied;
// the semantic neighborhood exists to widen a keyword scope.
func (s *Store) SemanticNeighbors(ctx context.Context, q overview.ScopeQuery, vec []float32, limit int) ([]overview.SemanticNeighbor, error) {
	if limit <= 0 || len(vec) == 0 {
		return nil, nil
	}
	distFn, err := vecmath.GetFloat32Func(vecmath.Cosine)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	model, err := s.pickModelLocked(s.preferred)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	info := s.cat.embedded(model)
	dim := info.dim
	from, to := isoDate(q.DateFrom), isoDate(q.DateTo)
	prefixes := make([]string, 0, len(q.CPCPrefixes))
	for _, p := range q.CPCPrefixes {
		if norm := normalizeCPC(p); norm != "" {
			prefixes = append(prefixes, norm)
		}
	}
	allowed := make(map[string]struct{}, len(info.rows))
	for idx := range info.rows {
		if !s.cat.inDateRange(idx, from, to, true) {
			continue
		}
		if !s.cat.matchesCPC(idx, prefixes) {
			continue
		}
		allowed[s.cat.rows[idx].id] = struct{}{}
	}
	s.mu.RUnlock()

	if len(allowed) == 0 {
		return nil, nil
	}

	var hits []overview.SemanticNeighbor
	measure := func(id string, row []float32) error {
		if _, ok := allowed[id]; !ok {
			return nil
		}
		d, err := distFn(vec, row)
		if err != nil {
			return err
		}
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return nil
		}
		hits = append(hits, overview.SemanticNeighbor{ID: id, Distance: d})
		return nil
	}

	if s.cache != nil {
		if err := s.ensureCached(ctx, model, dim); err != nil {
			return nil, err
		}
		if err := s.cache.scan(model, measure); err != nil {
			return nil, err
		}
	} else {
		rows, err := s.db.QueryContext(ctx,
			`SELECT patent_id, vector FROM embeddings WHERE model = ?`, model)
		if err != nil {
			return nil, classify("semantic scan", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				return nil, classify("semantic scan", err)
			}
			if err := measure(id, decodeVector(blob)); err != nil {
				return nil, err
			}
		}
		if err := rows.Err(); err != nil {
			return nil, classify("semantic scan", err)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// AggregateScope implements overview.SummarySource over the in-memory
// catalog. Exact hits come from the stemmed keyword index intersected with
// the date window and CPC prefixes; SemanticIDs extend the population, and
// the timeline and CPC rollup run over the union.
func (s *Store) AggregateScope(ctx context.Context, q overview.ScopeQuery) (*overview.ScopeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	phrase := s.cat.analyzer.Analyze(q.Keywords)
	hasKeywords := strings.TrimSpace(q.Keywords) != ""
	from, to := isoDate(q.DateFrom), isoDate(q.DateTo)
	prefixes := make([]string, 0, len(q.CPCPrefixes))
	for _, p := range q.CPCPrefixes {
		if norm := normalizeCPC(p); norm != "" {
			prefixes = append(prefixes, norm)
		}
	}

	inScope := func(idx uint32) bool {
		return s.cat.inDateRange(idx, from, to, true) && s.cat.matchesCPC(idx, prefixes)
	}

	union := make(map[uint32]struct{})
	exact := 0
	for idx := range s.cat.rows {
		i := uint32(idx)
		if !inScope(i) {
			continue
		}
		if hasKeywords && !s.cat.matchesKeywords(i, phrase) {
			continue
		}
		union[i] = struct{}{}
		exact++
	}

	semantic := 0
	for _, id := range q.SemanticIDs {
		idx, ok := s.cat.byID[id]
		if !ok || !inScope(idx) {
			continue
		}
		semantic++
		union[idx] = struct{}{}
	}

	stats := &overview.ScopeStats{
		Exact:    exact,
		Semantic: semantic,
		Total:    len(union),
	}

	type monthAgg struct {
		count     int
		assignees map[string]int
	}
	months := make(map[string]*monthAgg)
	cpcCounts := make(map[string]int)
	for idx := range union {
		row := s.cat.rows[idx]
		if row.date != "" {
			month := row.date[:7]
			agg := months[month]
			if agg == nil {
				agg = &monthAgg{assignees: make(map[string]int)}
				months[month] = agg
			}
			agg.count++
			agg.assignees[overview.NormalizeAssignee(row.assignee)]++
		}
		if len(row.cpcs) == 0 {
			cpcCounts["Unknown"]++
		} else {
			for _, code := range row.cpcs {
				cpcCounts[code]++
			}
		}
	}

	stats.Timeline = make([]overview.TimelinePoint, 0, len(months))
	for month, agg := range months {
		point := overview.TimelinePoint{Month: month, Count: agg.count}
		for name, n := range agg.assignees {
			if n > point.TopAssigneeCount ||
				(n == point.TopAssigneeCount && (point.TopAssignee == "" || name < point.TopAssignee)) {
				point.TopAssignee, point.TopAssigneeCount = name, n
			}
		}
		stats.Timeline = append(stats.Timeline, point)
	}
	sort.Slice(stats.Timeline, func(i, j int) bool {
		return stats.Timeline[i].Month < stats.Timeline[j].Month
	})

	stats.CPCRollup = make([]overview.CPCCount, 0, len(cpcCounts))
	for code, n := range cpcCounts {
		stats.CPCRollup = append(stats.CPCRollup, overview.CPCCount{CPC: code, Count: n})
	}
	sort.Slice(stats.CPCRollup, func(i, j int) bool {
		if stats.CPCRollup[i].Count != stats.CPCRollup[j].Count {
			return stats.CPCRollup[i].Count > stats.CPCRollup[j].Count
		}
		return stats.CPCRollup[i].CPC < stats.CPCRollup[j].CPC
	})
	if len(stats.CPCRollup) > cpcRollupLimit {
		stats.CPCRollup = stats.CPCRollup[:cpcRollupLimit]
	}
	return stats, nil
}

// CrowdingPercentile implements overview.SummarySource against the
// crowding_ladder table: the fraction of ladder entries at or below the
// given total. An unseeded ladder reports ok=false.
func (s *Store) CrowdingPercentile(ctx context.Context, total int) (float64, bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crowding_ladder`).Scan(&n); err != nil {
		return 0, false, classify("crowding ladder", err)
	}
	if n == 0 {
		return 0, false, nil
	}
	var le int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crowding_ladder WHERE total <= ?`, total).Scan(&le); err != nil {
		return 0, false, classify("crowding ladder", err)
	}
	return float64(le) / float64(n), true, nil
}
