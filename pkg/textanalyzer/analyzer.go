// Package textanalyzer normalizes patent text for the keyword index: it
// tokenizes titles and abstracts, drops high-frequency English stop words and
// reduces the remaining tokens to Porter2 stems. Queries run through the same
// pipeline, so a search for "heating" matches a document that only says
// "heated".
package textanalyzer

import (
	"regexp"
	"strings"
)

// Analyzer turns a block of text into index tokens.
type Analyzer interface {
	Analyze(text string) []string
}

// tokenizerRegex extracts words. \p{L}+ matches letter runs in any script,
// which behaves better than \w+ on accented assignee names.
var tokenizerRegex = regexp.MustCompile(`\p{L}+`)

// alnumRegex additionally keeps digit runs, for vocabularies where codes
// like "18650" or "5g" are meaningful terms.
var alnumRegex = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize splits text into lowercase words.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	return tokenizerRegex.FindAllString(text, -1)
}

// TokenizeAlphanumeric splits text into lowercase alphanumeric runs. The
// cluster term miner uses this so model numbers and standard names survive.
func TokenizeAlphanumeric(text string) []string {
	text = strings.ToLower(text)
	return alnumRegex.FindAllString(text, -1)
}

// englishStopWords carries only the function words that would bloat the
// index. Domain words like "method" or "system" stay searchable.
var englishStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
}

// FilterEnglishStopWords removes common English function words.
func FilterEnglishStopWords(tokens []string) []string {
	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStopWord := englishStopWords[token]; !isStopWord {
			filtered = append(filtered, token)
		}
	}
	return filtered
}
