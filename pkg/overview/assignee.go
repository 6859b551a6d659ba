package overview

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Fuzzy assignee matching knobs.
const (
	assigneeFuzzyThreshold = 0.80
	assigneeMatchLimit     = 12
	assigneePatternLimit   = 24
)

// assigneeSuffixes are corporate suffixes stripped during canonicalization,
// longest first so "INCORPORATED" wins over "INC".
var assigneeSuffixes = []string{
	"INCORPORATED",
	"CORPORATION",
	"COMPANY", "LIMITED",
	"INCORP",
	"INDST",
	"CORP", "GMBH", "MANF", "INST", "INTL",
	"INC", "LLC", "LTD", "ASS", "PTY", "MFF", "SYS", "MAN",
	"L Y", "L P", "SAS", "A G", "A B", "O Y", "N V", "S E", "N A", "B V",
	"INT", "IND",
	"LY", "LP", "OY", "NV", "CO", "BV", "AG", "KK", "SE", "AB", "NA",
}

// NormalizeAssignee coalesces empty assignee labels into a placeholder.
func NormalizeAssignee(name string) string {
	cleaned := strings.TrimSpace(name)
	if cleaned == "" {
		return "Unknown assignee"
	}
	return cleaned
}

var nonAlnumRun = regexp.MustCompile(`[^0-9A-Za-z]+`)

func removePunctAndCollapse(value string) string {
	cleaned := nonAlnumRun.ReplaceAllString(value, " ")
	return strings.ToUpper(strings.Join(strings.Fields(cleaned), " "))
}

// canonicalizeAssignee reduces a raw assignee name to its comparable core:
// punctuation collapsed, uppercased, corporate suffixes stripped repeatedly
// from the tail ("ACME Holdings, Inc." -> "ACME HOLDINGS").
func canonicalizeAssignee(name string) string {
	tokens := strings.Fields(removePunctAndCollapse(name))
	changed := true
	for changed && len(tokens) > 0 {
		changed = false
		for _, suffix := range assigneeSuffixes {
			if parts := strings.Fields(suffix); len(parts) > 1 {
				n := len(parts)
				if n <= len(tokens) && strings.Join(tokens[len(tokens)-n:], " ") == suffix {
					tokens = tokens[:len(tokens)-n]
					changed = true
					break
				}
			} else if tokens[len(tokens)-1] == suffix {
				tokens = tokens[:len(tokens)-1]
				changed = true
				break
			}
		}
	}
	return strings.Join(tokens, " ")
}

// assigneeSearchPatterns derives the case-insensitive LIKE patterns used to
// pre-filter the directory before fuzzy scoring: the raw query, each
// canonical token of 3+ characters, and the full canonical form.
func assigneeSearchPatterns(raw, canonical string) []string {
	var patterns []string
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		patterns = append(patterns, "%"+trimmed+"%")
	}
	for _, token := range strings.Fields(canonical) {
		if len(token) >= 3 {
			patterns = append(patterns, "%"+token+"%")
		}
	}
	if canonical != "" {
		present := false
		for _, p := range patterns {
			if strings.Trim(p, "%") == canonical {
				present = true
				break
			}
		}
		if !present {
			patterns = append(patterns, "%"+canonical+"%")
		}
	}
	seen := make(map[string]struct{}, len(patterns))
	ordered := patterns[:0]
	for _, p := range patterns {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		ordered = append(ordered, p)
	}
	if len(ordered) > assigneePatternLimit {
		ordered = ordered[:assigneePatternLimit]
	}
	return ordered
}

// sequenceRatio is the Ratcliff/Obershelp similarity in [0,1]: twice the
// total length of the matching blocks over the combined length. Matching
// blocks are found greedily, longest first, preferring the earliest
// occurrence on ties.
func sequenceRatio(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 1
	}
	b2j := make(map[byte][]int, len(b))
	for j := 0; j < len(b); j++ {
		b2j[b[j]] = append(b2j[b[j]], j)
	}

	type span struct{ alo, ahi, blo, bhi int }
	stack := []span{{0, len(a), 0, len(b)}}
	matches := 0
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		besti, bestj, bestsize := s.alo, s.blo, 0
		j2len := make(map[int]int)
		for i := s.alo; i < s.ahi; i++ {
			newj2len := make(map[int]int)
			for _, j := range b2j[a[i]] {
				if j < s.blo {
					continue
				}
				if j >= s.bhi {
					break
				}
				k := j2len[j-1] + 1
				newj2len[j] = k
				if k > bestsize {
					besti, bestj, bestsize = i-k+1, j-k+1, k
				}
			}
			j2len = newj2len
		}
		if bestsize == 0 {
			continue
		}
		matches += bestsize
		stack = append(stack,
			span{s.alo, besti, s.blo, bestj},
			span{besti + bestsize, s.ahi, bestj + bestsize, s.bhi})
	}
	return 2 * float64(matches) / float64(len(a)+len(b))
}

// AssigneeRecord is one canonical assignee row from the directory. Label is
// the canonical display name regardless of whether the lookup matched the
// name itself or an alias.
type AssigneeRecord struct {
	ID    string
	Label string
}

// AssigneeDirectory pre-filters canonical assignees by pattern. Patterns use
// '%' wildcards and match case-insensitively.
type AssigneeDirectory interface {
	LookupCanonical(ctx context.Context, patterns []string, limit int) ([]AssigneeRecord, error)
	LookupAliases(ctx context.Context, patterns []string, limit int) ([]AssigneeRecord, error)
}

// CanonicalMatch is one accepted fuzzy match.
type CanonicalMatch struct {
	ID    string
	Name  string
	Score float64
}

// MatchCanonical resolves a raw assignee query to canonical assignee ids.
// Directory candidates are scored with sequenceRatio over canonicalized
// forms (spaced and compacted, the better of the two), keeping the best
// score per id, and only scores of at least assigneeFuzzyThreshold survive.
// At most assigneeMatchLimit matches return, best first.
func MatchCanonical(ctx context.Context, dir AssigneeDirectory, query string) ([]CanonicalMatch, error) {
	canonical := canonicalizeAssignee(query)
	if canonical == "" {
		return nil, nil
	}
	patterns := assigneeSearchPatterns(query, canonical)
	if len(patterns) == 0 {
		return nil, nil
	}
	compactQuery := strings.ReplaceAll(canonical, " ", "")

	score := func(label string) float64 {
		cand := canonicalizeAssignee(label)
		if cand == "" {
			return 0
		}
		spaced := sequenceRatio(canonical, cand)
		compact := sequenceRatio(compactQuery, strings.ReplaceAll(cand, " ", ""))
		return max(spaced, compact)
	}

	lookupLimit := assigneeMatchLimit * 5
	best := make(map[string]CanonicalMatch)
	absorb := func(records []AssigneeRecord) {
		for _, rec := range records {
			s := score(rec.Label)
			if prev, ok := best[rec.ID]; !ok || s > prev.Score {
				best[rec.ID] = CanonicalMatch{ID: rec.ID, Name: rec.Label, Score: s}
			}
		}
	}

	canonRecords, err := dir.LookupCanonical(ctx, patterns, lookupLimit)
	if err != nil {
		return nil, fmt.Errorf("assignee lookup: %w", err)
	}
	absorb(canonRecords)

	aliasRecords, err := dir.LookupAliases(ctx, patterns, lookupLimit)
	if err != nil {
		return nil, fmt.Errorf("assignee alias lookup: %w", err)
	}
	absorb(aliasRecords)

	matches := make([]CanonicalMatch, 0, len(best))
	for _, m := range best {
		if m.Score >= assigneeFuzzyThreshold {
			matches = append(matches, m)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if len(matches[i].Name) != len(matches[j].Name) {
			return len(matches[i].Name) < len(matches[j].Name)
		}
		if matches[i].Name != matches[j].Name {
			return matches[i].Name < matches[j].Name
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > assigneeMatchLimit {
		matches = matches[:assigneeMatchLimit]
	}
	return matches, nil
}
