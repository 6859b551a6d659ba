package textanalyzer

import "strings"

// EnglishStemmer is the analyzer used for patent titles and abstracts:
// tokenize, drop stop words, stem.
type EnglishStemmer struct{}

// NewEnglishStemmer creates a new English analyzer.
func NewEnglishStemmer() *EnglishStemmer {
	return &EnglishStemmer{}
}

// Analyze implements the Analyzer interface.
func (s *EnglishStemmer) Analyze(text string) []string {
	tokens := FilterEnglishStopWords(Tokenize(text))
	stemmed := make([]string, len(tokens))
	for i, token := range tokens {
		stemmed[i] = Stem(token)
	}
	return stemmed
}

func cutSuffixIn(s string, regionStart int, old, new string) (string, bool) {
	if strings.HasSuffix(s, old) {
		if len(s)-len(old) >= regionStart {
			return s[:len(s)-len(old)] + new, true
		}
	}
	return s, false
}

// --- Porter2 (Snowball English) ---

func isVowel(runes []rune, i int) bool {
	if i < 0 || i >= len(runes) {
		return false
	}
	switch runes[i] {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	case 'y':
		// 'y' counts as a vowel only after a consonant.
		if i == 0 {
			return false
		}
		switch runes[i-1] {
		case 'a', 'e', 'i', 'o', 'u':
			return false
		default:
			return true
		}
	}
	return false
}

// markRegions returns the R1/R2 boundaries: the offsets after the first and
// second non-vowel-following-a-vowel.
func markRegions(runes []rune) (r1, r2 int) {
	r1 = len(runes)
	r2 = len(runes)
	for i := 1; i < len(runes); i++ {
		if !isVowel(runes, i) && isVowel(runes, i-1) {
			r1 = i + 1
			break
		}
	}
	for i := r1 + 1; i < len(runes); i++ {
		if !isVowel(runes, i) && isVowel(runes, i-1) {
			r2 = i + 1
			break
		}
	}
	return
}

func endsShortSyllable(s string) bool {
	runes := []rune(s)
	l := len(runes)
	if l < 2 {
		return false
	}
	if l >= 3 && !isVowel(runes, l-3) && isVowel(runes, l-2) && !isVowel(runes, l-1) {
		last := runes[l-1]
		if last != 'w' && last != 'x' && last != 'y' {
			return true
		}
	}
	if l == 2 && isVowel(runes, 0) && !isVowel(runes, 1) {
		return true
	}
	return false
}

var stemExceptions = map[string]string{
	"skis": "ski", "skies": "sky", "dying": "die", "lying": "lie", "tying": "tie",
	"idly": "idl", "gently": "gentl", "ugly": "ugli", "early": "earli",
	"only": "onli", "singly": "singl", "news": "news", "howe": "howe",
	"atlas": "atlas", "cosmos": "cosmos", "bias": "bias", "andes": "andes",
}

var stemInvariants = []string{"inning", "outing", "canning", "herring", "earring", "proceed", "exceed", "succeed"}

// Stem reduces one lowercase word to its Porter2 stem.
func Stem(word string) string {
	if len(word) <= 2 {
		return word
	}
	if stem, ok := stemExceptions[word]; ok {
		return stem
	}
	s := word
	if s[0] == '\'' {
		s = s[1:]
	}
	runes := []rune(s)
	if runes[0] == 'y' {
		runes[0] = 'Y'
	}
	s = string(runes)
	r1, r2 := markRegions(runes)

	s = step0(s)
	s = step1a(s)

	for _, e := range stemInvariants {
		if s == e {
			return s
		}
	}

	s = step1b(s, r1)
	s = step1c(s)
	s = step2(s, r1)
	s = step3(s, r1, r2)
	s = step4(s, r2)
	s = step5(s, r1)

	return strings.ToLower(s)
}

func step0(s string) string {
	if strings.HasSuffix(s, "'s'") {
		return s[:len(s)-3]
	}
	if strings.HasSuffix(s, "'s") {
		return s[:len(s)-2]
	}
	if strings.HasSuffix(s, "'") {
		return s[:len(s)-1]
	}
	return s
}

func step1a(s string) string {
	if strings.HasSuffix(s, "sses") {
		return s[:len(s)-2]
	}
	if strings.HasSuffix(s, "ies") {
		return s[:len(s)-2]
	}
	if strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss") {
		if len(s) > 2 {
			runes := []rune(s[:len(s)-1])
			for i := range runes {
				if isVowel(runes, i) {
					return s[:len(s)-1]
				}
			}
		}
	}
	return s
}

func step1b(s string, r1 int) string {
	if strings.HasSuffix(s, "eed") || strings.HasSuffix(s, "eedly") {
		if res, ok := cutSuffixIn(s, r1, "eed", "ee"); ok {
			return res
		}
		if res, ok := cutSuffixIn(s, r1, "eedly", "ee"); ok {
			return res
		}
		return s
	}
	stem := ""
	removed := false
	if strings.HasSuffix(s, "ed") || strings.HasSuffix(s, "edly") {
		stem = s[:len(s)-2]
		if strings.HasSuffix(s, "edly") {
			stem = s[:len(s)-4]
		}
		removed = true
	} else if strings.HasSuffix(s, "ing") || strings.HasSuffix(s, "ingly") {
		stem = s[:len(s)-3]
		if strings.HasSuffix(s, "ingly") {
			stem = s[:len(s)-5]
		}
		removed = true
	}
	if removed {
		runes := []rune(stem)
		hasVowel := false
		for i := range runes {
			if isVowel(runes, i) {
				hasVowel = true
				break
			}
		}
		if hasVowel {
			s = stem
			if strings.HasSuffix(s, "at") || strings.HasSuffix(s, "bl") || strings.HasSuffix(s, "iz") {
				s += "e"
			} else {
				l := len(s)
				if l > 1 && s[l-1] == s[l-2] {
					last := s[l-1]
					if last != 'l' && last != 's' && last != 'z' {
						s = s[:l-1]
					}
				} else {
					runes := []rune(s)
					stemR1, _ := markRegions(runes)
					if endsShortSyllable(s) && stemR1 == len(s) {
						s += "e"
					}
				}
			}
		}
	}
	return s
}

func step1c(s string) string {
	runes := []rune(s)
	l := len(runes)
	if l > 2 && (runes[l-1] == 'y' || runes[l-1] == 'Y') {
		if !isVowel(runes, l-2) {
			runes[l-1] = 'i'
			return string(runes)
		}
	}
	return s
}

func step2(s string, r1 int) string {
	suffixes := []struct{ s1, s2 string }{
		{"ational", "ate"}, {"tional", "tion"}, {"enci", "ence"}, {"anci", "ance"},
		{"izer", "ize"}, {"abli", "able"}, {"alli", "al"}, {"entli", "ent"},
		{"eli", "e"}, {"ousli", "ous"}, {"ization", "ize"}, {"ation", "ate"},
		{"ator", "ate"}, {"alism", "al"}, {"iveness", "ive"}, {"fulness", "ful"},
		{"ousness", "ous"}, {"aliti", "al"}, {"iviti", "ive"}, {"biliti", "ble"},
		{"logi", "log"},
	}
	for _, suf := range suffixes {
		if newS, ok := cutSuffixIn(s, r1, suf.s1, suf.s2); ok {
			return newS
		}
	}
	return s
}

func step3(s string, r1, r2 int) string {
	suffixes := []struct{ s1, s2 string }{
		{"icate", "ic"}, {"ative", ""}, {"alize", "al"}, {"iciti", "ic"},
		{"ical", "ic"}, {"ful", ""}, {"ness", ""},
	}
	for _, suf := range suffixes {
		region := r1
		if suf.s1 == "ative" {
			region = r2
		}
		if newS, ok := cutSuffixIn(s, region, suf.s1, suf.s2); ok {
			return newS
		}
	}
	return s
}

func step4(s string, r2 int) string {
	suffixes := []string{
		"al", "ance", "ence", "er", "ic", "able", "ible", "ant", "ement",
		"ment", "ent", "ism", "ate", "iti", "ous", "ive", "ize",
	}
	if strings.HasSuffix(s, "ion") {
		if len(s)-3 >= r2 {
			stem := s[:len(s)-3]
			if strings.HasSuffix(stem, "s") || strings.HasSuffix(stem, "t") {
				return stem
			}
		}
	}
	for _, suf := range suffixes {
		if newS, ok := cutSuffixIn(s, r2, suf, ""); ok {
			return newS
		}
	}
	return s
}

func step5(s string, r1 int) string {
	if strings.HasSuffix(s, "e") {
		stem := s[:len(s)-1]
		if len(stem) >= r1 {
			runes := []rune(stem)
			stemR1, _ := markRegions(runes)
			if !endsShortSyllable(stem) || stemR1 != len(stem) {
				s = stem
			}
		}
	}
	if strings.HasSuffix(s, "ll") {
		if len(s)-2 >= r1 {
			s = s[:len(s)-1]
		}
	}
	return s
}
