package overview

import (
	"math"
	"sort"
	"strings"

	"github.com/sanonone/lacuna/pkg/textanalyzer"
)

// Term mining knobs for cluster display labels.
const (
	clusterTermSampleSize = 20 // top members per cluster fed to the counter
	clusterLabelMinTerms  = 3
	clusterLabelMaxTerms  = 8
	clusterLabelMinLength = 5
	commonTermRatio       = 0.7 // share of clusters that makes a token "universal"
)

// clusterLabelStopwords are boilerplate words that never describe a cluster:
// claim-language filler, legal connectives, generic hardware nouns.
var clusterLabelStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "into": {},
	"that": {}, "this": {}, "those": {}, "these": {}, "their": {}, "there": {},
	"where": {}, "when": {}, "which": {}, "about": {}, "using": {}, "based": {},
	"system": {}, "systems": {}, "method": {}, "methods": {}, "device": {},
	"devices": {}, "apparatus": {}, "apparatuses": {}, "process": {},
	"processes": {}, "module": {}, "modules": {}, "unit": {}, "units": {},
	"network": {}, "networks": {}, "data": {}, "information": {},
	"control": {}, "controlled": {}, "controls": {}, "application": {},
	"applications": {}, "computer": {}, "computers": {}, "program": {},
	"programs": {}, "sensor": {}, "sensors": {}, "analysis": {},
	"analyzing": {}, "electric": {}, "electrical": {}, "component": {},
	"components": {}, "circuit": {}, "circuitry": {}, "user": {}, "users": {},
	"plurality": {}, "first": {}, "second": {}, "third": {}, "fourth": {},
	"fifth": {}, "sixth": {}, "seventh": {}, "eighth": {}, "ninth": {},
	"tenth": {}, "one": {}, "two": {}, "three": {}, "four": {}, "five": {},
	"six": {}, "seven": {}, "eight": {}, "nine": {}, "ten": {}, "may": {},
	"can": {}, "could": {}, "would": {}, "should": {}, "shall": {},
	"will": {}, "within": {}, "wherein": {}, "thereof": {}, "herein": {},
	"configured": {}, "configuring": {}, "configure": {}, "includes": {},
	"include": {}, "including": {}, "included": {}, "used": {},
	"associated": {}, "association": {}, "associations": {}, "comprise": {},
	"comprises": {}, "comprising": {}, "composed": {}, "relate": {},
	"related": {}, "relates": {}, "relating": {}, "provide": {},
	"provides": {}, "providing": {}, "provided": {}, "via": {}, "onto": {},
	"across": {}, "among": {}, "amongst": {}, "toward": {}, "towards": {},
	"between": {}, "therein": {}, "therefrom": {}, "thereafter": {},
	"therewith": {}, "hereafter": {}, "allows": {}, "allow": {},
	"allowing": {}, "permit": {}, "permits": {}, "permitting": {},
	"enable": {}, "enables": {}, "enabling": {}, "enabled": {}, "cause": {},
	"causes": {}, "causing": {}, "caused": {}, "being": {}, "further": {},
	"regarding": {}, "having": {}, "has": {}, "after": {}, "possible": {},
	"potential": {}, "different": {}, "least": {}, "through": {}, "other": {},
}

// clusterLabelStemStopwords drop whole word families by prefix: anything
// starting with one of these stems is claim or ML boilerplate.
var clusterLabelStemStopwords = []string{
	"algorithm", "algorith", "associ", "artific", "calcul", "comput",
	"configur", "determin", "includ", "intellig", "machin", "model",
	"process", "relat", "technolog", "utiliz", "employ", "provid",
	"addition", "compris", "generat", "hav", "identifi", "identify",
	"implement", "operat", "involv", "obtain", "describ", "detect",
	"disclos", "apply", "analyz", "vari", "exampl", "specif", "particul",
	"aspect", "illustrat", "embodiment", "consequen", "benefi", "train",
	"permit", "allow", "enabl", "caus",
}

func isAllowedClusterTerm(token string) bool {
	normalized := strings.TrimSpace(strings.ToLower(token))
	if len(normalized) < clusterLabelMinLength {
		return false
	}
	if isAllDigits(normalized) {
		return false
	}
	if _, stopped := clusterLabelStopwords[normalized]; stopped {
		return false
	}
	for _, stem := range clusterLabelStemStopwords {
		if strings.HasPrefix(normalized, stem) {
			return false
		}
	}
	return true
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// clusterTermTokens tokenizes title or abstract text and keeps only tokens
// usable as label terms.
func clusterTermTokens(text string) []string {
	if text == "" {
		return nil
	}
	tokens := textanalyzer.TokenizeAlphanumeric(text)
	kept := tokens[:0]
	for _, tok := range tokens {
		if isAllowedClusterTerm(tok) {
			kept = append(kept, tok)
		}
	}
	return kept
}

// ComputeClusterTerms mines up to clusterLabelMaxTerms distinctive terms per
// cluster from the titles and abstracts of its highest-scoring members.
// Tokens shared by most clusters are treated as universal vocabulary and
// suppressed, and terms that merely extend an already kept term are skipped.
func ComputeClusterTerms(nodes []NodeDatum) map[int][]string {
	clusters := make(map[int][]NodeDatum)
	for _, node := range nodes {
		clusters[node.ClusterID] = append(clusters[node.ClusterID], node)
	}

	type termCount struct {
		term  string
		count int
		order int // first-appearance rank inside the cluster sample
	}
	clusterCounts := make(map[int][]termCount)

	for clusterID, members := range clusters {
		sort.Slice(members, func(i, j int) bool {
			if members[i].Score != members[j].Score {
				return members[i].Score > members[j].Score
			}
			return members[i].ID < members[j].ID
		})
		if len(members) > clusterTermSampleSize {
			members = members[:clusterTermSampleSize]
		}

		counts := make(map[string]*termCount)
		order := 0
		bump := func(tok string) {
			if tc, ok := counts[tok]; ok {
				tc.count++
				return
			}
			counts[tok] = &termCount{term: tok, count: 1, order: order}
			order++
		}
		for _, member := range members {
			for _, tok := range clusterTermTokens(member.Title) {
				bump(tok)
			}
			for _, tok := range clusterTermTokens(member.Abstract) {
				bump(tok)
			}
		}
		if len(counts) == 0 {
			continue
		}
		flat := make([]termCount, 0, len(counts))
		for _, tc := range counts {
			flat = append(flat, *tc)
		}
		// Most frequent first; first-seen order breaks count ties so reruns
		// over the same sample stay stable.
		sort.Slice(flat, func(i, j int) bool {
			if flat[i].count != flat[j].count {
				return flat[i].count > flat[j].count
			}
			return flat[i].order < flat[j].order
		})
		clusterCounts[clusterID] = flat
	}

	terms := make(map[int][]string)
	if len(clusterCounts) == 0 {
		return terms
	}

	coverage := make(map[string]int)
	for _, flat := range clusterCounts {
		for _, tc := range flat {
			coverage[tc.term]++
		}
	}
	clusterCount := len(clusterCounts)
	threshold := clusterCount
	if clusterCount > 2 {
		threshold = int(math.Ceil(float64(clusterCount) * commonTermRatio))
		if threshold < 2 {
			threshold = 2
		}
	}
	universal := make(map[string]struct{})
	for term, seen := range coverage {
		if seen >= threshold {
			universal[term] = struct{}{}
		}
	}

	for clusterID, flat := range clusterCounts {
		var ordered []string
		for _, tc := range flat {
			if _, common := universal[tc.term]; common {
				continue
			}
			collides := false
			for _, kept := range ordered {
				if strings.HasPrefix(tc.term, kept) || strings.HasPrefix(kept, tc.term) {
					collides = true
					break
				}
			}
			if !collides {
				ordered = append(ordered, tc.term)
			}
			if len(ordered) >= clusterLabelMaxTerms {
				break
			}
		}
		terms[clusterID] = ordered
	}
	return terms
}

// FormatLabelTerms renders mined terms for display: title-cased, joined by
// a comma.
func FormatLabelTerms(terms []string) string {
	formatted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" {
			continue
		}
		formatted = append(formatted, titleCase(t))
	}
	return strings.Join(formatted, ", ")
}

// titleCase uppercases the first letter of every space-separated word,
// lowercasing the rest, like Python's str.title for ASCII input.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
