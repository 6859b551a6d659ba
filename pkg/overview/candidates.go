package overview

import (
	"context"
	"fmt"
	"time"
)

// CandidateQuery describes one fetch tier against the Source.
//
// Implementations must return rows newest-first (date descending, id
// ascending, undated rows last) and evaluate IsFocus per row against
// Keywords and CPCPrefixes. With FocusOnly set, only rows matching the
// focus predicate qualify. Exclude lists ids the caller already holds;
// honoring it is optional since the builder dedupes anyway.
type CandidateQuery struct {
	Model       string
	DateFrom    time.Time // inclusive, zero = unbounded
	DateTo      time.Time // exclusive, zero = unbounded
	Keywords    []string
	CPCPrefixes []string
	AssigneeIDs []string
	FocusOnly   bool
	Limit       int
	Exclude     map[string]struct{}
}

// Source supplies embedded candidates for graph builds.
type Source interface {
	// PickModel chooses the embedding model for a build: the preferred one
	// when present, otherwise the model with the most embedded rows. No
	// models at all yields a *NoDataError.
	PickModel(ctx context.Context, preferred string) (string, error)

	FetchCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error)
}

// BuildCandidates assembles the working set for a graph build in two tiers.
//
// When the request carries a focus predicate (keywords, CPC prefixes or
// matched canonical assignees) the first tier pulls up to `limit` matching
// rows; if the quota is not filled, a fallback tier pulls up to twice the
// limit ignoring the predicate so non-focus context surrounds the focus
// set. Rows are deduplicated by id across tiers. The result keeps fetch
// order (newest first) and is capped at `limit`.
func BuildCandidates(ctx context.Context, src Source, model string, req *GraphRequest, assigneeIDs []string) ([]Candidate, error) {
	target := req.Limit
	if target <= 0 || target > MaxGraphLimit {
		target = MaxGraphLimit
	}

	base := CandidateQuery{
		Model:       model,
		DateFrom:    parseISODate(req.DateFrom),
		DateTo:      parseISODate(req.DateTo),
		Keywords:    req.FocusKeywords,
		CPCPrefixes: req.FocusCPCLike,
		AssigneeIDs: assigneeIDs,
	}
	hasFocus := len(req.FocusKeywords) > 0 || len(req.FocusCPCLike) > 0 || len(assigneeIDs) > 0

	seen := make(map[string]struct{}, target)
	out := make([]Candidate, 0, target)
	ingest := func(rows []Candidate) bool {
		for _, row := range rows {
			if _, dup := seen[row.ID]; dup {
				continue
			}
			seen[row.ID] = struct{}{}
			out = append(out, row)
			if len(out) >= target {
				return true
			}
		}
		return false
	}

	filled := false
	if hasFocus {
		q := base
		q.FocusOnly = true
		q.Limit = target
		rows, err := src.FetchCandidates(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("fetch focus candidates: %w", err)
		}
		filled = ingest(rows)
	}

	if !filled && len(out) < target {
		fallbackLimit := target
		if hasFocus {
			fallbackLimit = min(target*2, MaxGraphLimit*2)
		}
		q := base
		q.Limit = fallbackLimit
		// Snapshot, not alias: the dedupe set keeps growing while rows are
		// ingested and the query must describe the fetch it was issued for.
		q.Exclude = make(map[string]struct{}, len(seen))
		for id := range seen {
			q.Exclude[id] = struct{}{}
		}
		rows, err := src.FetchCandidates(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("fetch candidates: %w", err)
		}
		ingest(rows)
	}

	if len(out) == 0 {
		return nil, &NoDataError{Reason: "No embeddings match the filters."}
	}
	return out, nil
}
