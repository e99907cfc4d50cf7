// Package match decides whether free-form comment text triggers a keyword,
// tolerating typos, character substitutions, and partial matches.
package match

import (
	"regexp"
	"strings"
	"sync"
)

// Characters commonly swapped for look-alikes in comment text.
var substitutions = map[rune]string{
	'a': "[a@]",
	'e': "[e3]",
	'i': "[i1]",
	'o': "[o0]",
	's': "[s5z]",
	'l': "[l1]",
	't': "[t7]",
	'g': "[g9]",
	'b': "[b6]",
}

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// Matches reports whether any keyword triggers on the comment text. Keywords
// are tried in order and matched independently; the first hit wins. The whole
// operation is case-insensitive, and each keyword is trimmed before use.
func Matches(commentText string, keywords []string) bool {
	commentLower := strings.ToLower(commentText)

	for _, keyword := range keywords {
		keywordLower := strings.ToLower(strings.TrimSpace(keyword))
		if keywordLower == "" {
			continue
		}

		if strings.Contains(commentLower, keywordLower) {
			return true
		}

		if strings.Contains(stripSpaces(commentLower), stripSpaces(keywordLower)) {
			return true
		}

		if typoPatternHits(keywordLower, commentLower) {
			return true
		}

		for _, word := range wordPattern.FindAllString(commentLower, -1) {
			if strings.Contains(word, keywordLower) || strings.Contains(keywordLower, word) {
				return true
			}
			if len(word) > 2 && len(keywordLower) > 2 && closeEnough(word, keywordLower) {
				return true
			}
		}
	}
	return false
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// typoPatternHits builds a substring pattern for the keyword where commonly
// confused characters match their substitutes and every alphabetic position
// is optional, so the pattern still hits when characters are dropped. With
// everything optional the pattern also matches the empty string, so a hit
// only counts when it covers all but two of the keyword's characters.
func typoPatternHits(keyword, commentLower string) bool {
	re := typoPattern(keyword)
	if re == nil {
		return false
	}
	minMatch := len(keyword) - 2
	if minMatch < 2 {
		minMatch = 2
	}
	for _, m := range re.FindAllString(commentLower, -1) {
		if len(m) >= minMatch {
			return true
		}
	}
	return false
}

func typoPattern(keyword string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[keyword]; ok {
		return re
	}

	var b strings.Builder
	for _, r := range keyword {
		if class, ok := substitutions[r]; ok {
			b.WriteString(class)
			b.WriteByte('?')
			continue
		}
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
			b.WriteByte('?')
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}

	re, err := regexp.Compile(b.String())
	if err != nil {
		re = nil
	}
	patternCache[keyword] = re
	return re
}

// closeEnough is a deliberately loose prefix-mismatch heuristic, not a true
// edit distance: it counts position-wise mismatches over the overlapping
// prefix plus the length difference, so a transposition costs two.
func closeEnough(word, keyword string) bool {
	lenDiff := len(word) - len(keyword)
	if lenDiff < 0 {
		lenDiff = -lenDiff
	}
	if lenDiff > 2 {
		return false
	}

	minLen := len(word)
	maxLen := len(keyword)
	if minLen > maxLen {
		minLen, maxLen = maxLen, minLen
	}

	differences := lenDiff
	for i := 0; i < minLen; i++ {
		if word[i] != keyword[i] {
			differences++
		}
	}

	tolerance := 1
	if maxLen > 4 {
		tolerance = 2
	}
	return differences <= tolerance
}
