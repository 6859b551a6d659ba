package store

import (
	"strings"
	"time"

	"github.com/tidwall/btree"

	"github.com/sanonone/lacuna/pkg/textanalyzer"
)

// patentRow is the in-memory mirror of one patents table row. The catalog
// keeps every row resident; vectors stay in SQLite or the mmap cache.
type patentRow struct {
	idx        uint32
	id         string
	title      string
	abstract   string
	assignee   string
	assigneeID string
	date       string // YYYY-MM-DD, "" = undated
	cpcs       []string
}

// dateKey orders rows for newest-first scans. Less sorts by (date asc,
// id desc), so a descending walk yields date descending with ids ascending
// inside a day, and undated rows ("" sorts lowest) come out last.
type dateKey struct {
	date string
	id   string
}

func dateKeyLess(a, b dateKey) bool {
	if a.date != b.date {
		return a.date < b.date
	}
	return a.id > b.id
}

// dateKeyMax is greater than every real key, so Descend from it walks the
// whole index.
var dateKeyMax = dateKey{date: "\xff", id: ""}

// modelInfo tracks which rows carry an embedding for one model.
type modelInfo struct {
	dim  int
	rows map[uint32]struct{}
}

// catalog is the secondary index layer over the patents table: an inverted
// index of Porter2 stems over title+abstract, a btree over (pub_date, id)
// and per-model embedded-row sets. SQLite stays the source of truth; the
// catalog is rebuilt at open and updated in lockstep with every write.
type catalog struct {
	rows     []patentRow
	byID     map[string]uint32
	terms    map[string]map[uint32]struct{}
	dates    *btree.BTreeG[dateKey]
	models   map[string]*modelInfo
	analyzer textanalyzer.Analyzer
}

func newCatalog() *catalog {
	return &catalog{
		byID:     make(map[string]uint32),
		terms:    make(map[string]map[uint32]struct{}),
		dates:    btree.NewBTreeG[dateKey](dateKeyLess),
		models:   make(map[string]*modelInfo),
		analyzer: textanalyzer.NewEnglishStemmer(),
	}
}

// insert adds or replaces a row and refreshes the secondary indexes.
func (c *catalog) insert(row patentRow) {
	if prev, ok := c.byID[row.id]; ok {
		c.unindex(prev)
		row.idx = prev
		c.rows[prev] = row
	} else {
		row.idx = uint32(len(c.rows))
		c.rows = append(c.rows, row)
		c.byID[row.id] = row.idx
	}
	c.index(row.idx)
}

func (c *catalog) index(idx uint32) {
	row := c.rows[idx]
	for _, stem := range c.analyzer.Analyze(row.title + " " + row.abstract) {
		set, ok := c.terms[stem]
		if !ok {
			set = make(map[uint32]struct{})
			c.terms[stem] = set
		}
		set[idx] = struct{}{}
	}
	c.dates.Set(dateKey{date: row.date, id: row.id})
}

func (c *catalog) unindex(idx uint32) {
	row := c.rows[idx]
	for _, stem := range c.analyzer.Analyze(row.title + " " + row.abstract) {
		if set, ok := c.terms[stem]; ok {
			delete(set, idx)
			if len(set) == 0 {
				delete(c.terms, stem)
			}
		}
	}
	c.dates.Delete(dateKey{date: row.date, id: row.id})
}

// markEmbedded records that a row carries an embedding for model.
func (c *catalog) markEmbedded(id, model string, dim int) {
	idx, ok := c.byID[id]
	if !ok {
		return
	}
	info := c.models[model]
	if info == nil {
		info = &modelInfo{dim: dim, rows: make(map[uint32]struct{})}
		c.models[model] = info
	}
	info.rows[idx] = struct{}{}
}

func (c *catalog) embedded(model string) *modelInfo {
	return c.models[model]
}

// hasStem reports whether row idx contains the stem.
func (c *catalog) hasStem(stem string, idx uint32) bool {
	set, ok := c.terms[stem]
	if !ok {
		return false
	}
	_, ok = set[idx]
	return ok
}

// focusPredicate is the compiled form of a query's scope predicates. A row
// is focus when it matches any keyword phrase (every stem of the phrase
// present), any CPC prefix, or belongs to a matched canonical assignee.
type focusPredicate struct {
	phrases   [][]string
	prefixes  []string
	assignees map[string]struct{}
}

func (c *catalog) compileFocus(keywords, cpcPrefixes, assigneeIDs []string) *focusPredicate {
	p := &focusPredicate{}
	for _, kw := range keywords {
		stems := c.analyzer.Analyze(kw)
		if len(stems) > 0 {
			p.phrases = append(p.phrases, stems)
		}
	}
	for _, prefix := range cpcPrefixes {
		if trimmed := normalizeCPC(prefix); trimmed != "" {
			p.prefixes = append(p.prefixes, trimmed)
		}
	}
	if len(assigneeIDs) > 0 {
		p.assignees = make(map[string]struct{}, len(assigneeIDs))
		for _, id := range assigneeIDs {
			p.assignees[id] = struct{}{}
		}
	}
	return p
}

func (p *focusPredicate) empty() bool {
	return len(p.phrases) == 0 && len(p.prefixes) == 0 && len(p.assignees) == 0
}

func (c *catalog) matchesFocus(idx uint32, p *focusPredicate) bool {
	if p == nil || p.empty() {
		return false
	}
	if len(p.assignees) > 0 {
		if _, ok := p.assignees[c.rows[idx].assigneeID]; ok {
			return true
		}
	}
	for _, phrase := range p.phrases {
		all := true
		for _, stem := range phrase {
			if !c.hasStem(stem, idx) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	if len(p.prefixes) > 0 {
		for _, code := range c.rows[idx].cpcs {
			for _, prefix := range p.prefixes {
				if strings.HasPrefix(code, prefix) {
					return true
				}
			}
		}
	}
	return false
}

// matchesCPC reports whether the row carries any code under the prefixes.
// An empty prefix list matches everything.
func (c *catalog) matchesCPC(idx uint32, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, code := range c.rows[idx].cpcs {
		for _, prefix := range prefixes {
			if strings.HasPrefix(code, prefix) {
				return true
			}
		}
	}
	return false
}

// matchesKeywords applies a single AND phrase: every stem must be present.
// An empty phrase (no indexable stems) matches nothing.
func (c *catalog) matchesKeywords(idx uint32, stems []string) bool {
	if len(stems) == 0 {
		return false
	}
	for _, stem := range stems {
		if !c.hasStem(stem, idx) {
			return false
		}
	}
	return true
}

// inDateRange checks from (inclusive) and to against the row's date.
// Undated rows fail any bounded check, matching SQL comparison semantics
// against NULL dates.
func (c *catalog) inDateRange(idx uint32, from, to string, toInclusive bool) bool {
	d := c.rows[idx].date
	if from == "" && to == "" {
		return true
	}
	if d == "" {
		return false
	}
	if from != "" && d < from {
		return false
	}
	if to != "" {
		if toInclusive {
			if d > to {
				return false
			}
		} else if d >= to {
			return false
		}
	}
	return true
}

// walkNewest visits rows date-descending (ids ascending within a day,
// undated rows last) until the callback returns false.
func (c *catalog) walkNewest(visit func(idx uint32) bool) {
	c.dates.Descend(dateKeyMax, func(key dateKey) bool {
		idx, ok := c.byID[key.id]
		if !ok {
			return true
		}
		return visit(idx)
	})
}

// isoDate formats a bound for catalog comparisons; zero time means
// unbounded.
func isoDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// normalizeCPC uppercases a code and strips internal whitespace, so
// "h01m 10/52" compares against stored "H01M10/52".
func normalizeCPC(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if strings.ContainsAny(code, " \t") {
		code = strings.Join(strings.Fields(code), "")
	}
	return code
}
