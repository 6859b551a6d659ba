package ingest

import "strings"

const defaultExcerptLimit = 2000

// ExcerptSplitter bounds abstracts to a rune budget, preferring to cut at
// a paragraph break, then a sentence end, then a word boundary.
type ExcerptSplitter struct {
	Limit      int
	Separators []string
}

func NewExcerptSplitter(limit int) *ExcerptSplitter {
	if limit <= 0 {
		limit = defaultExcerptLimit
	}
	return &ExcerptSplitter{
		Limit:      limit,
		Separators: []string{"\n\n", ". ", " "},
	}
}

// Excerpt returns text unchanged when it fits the limit, otherwise the
// longest prefix ending at a separator. A separator in the first half of
// the budget is ignored so one early paragraph break cannot shrink the
// excerpt to a stub.
func (s *ExcerptSplitter) Excerpt(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= s.Limit {
		return text
	}
	head := string(runes[:s.Limit])
	for _, sep := range s.Separators {
		i := strings.LastIndex(head, sep)
		if i >= 0 && i+len(sep) >= s.Limit/2 {
			return strings.TrimSpace(head[:i+len(sep)])
		}
	}
	return strings.TrimSpace(head)
}
