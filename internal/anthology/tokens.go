package anthology

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// numberWords maps the small closed set of spelled-out numbers anthology
// titles tend to use ("Two for the Price of One") onto their digit form, so
// title matching treats "2" and "two" as the same token.
var numberWords = map[string]string{
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
	"ten": "10", "eleven": "11", "twelve": "12",
}

// tokenize splits title into a normalized token slice: NFC-normalized,
// lowercased, punctuation-insensitive (apostrophes dropped rather than
// treated as word boundaries), with spelled-out numbers folded to digits.
func tokenize(title string) []string {
	normalized := norm.NFC.String(strings.ToLower(title))
	normalized = strings.NewReplacer("'", "", "’", "", "‘", "").Replace(normalized)

	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tokens = append(tokens, foldNumber(b.String()))
		b.Reset()
	}
	for _, r := range normalized {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func foldNumber(token string) string {
	if digit, ok := numberWords[token]; ok {
		return digit
	}
	if _, err := strconv.Atoi(token); err == nil {
		return token
	}
	return token
}

// jaccardScore implements spec.md §4.4's title-matching formula:
// |tokens(a) ∩ tokens(b)| / max(|tokens(a)|, |tokens(b)|).
func jaccardScore(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	counts := make(map[string]int, len(a))
	for _, t := range a {
		counts[t]++
	}
	overlap := 0
	for _, t := range b {
		if counts[t] > 0 {
			counts[t]--
			overlap++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(overlap) / float64(denom)
}

// stripSharedPrefix removes a leading phrase of at most maxPrefixTokens
// tokens that occurs verbatim at the start of at least minShared of the
// given token lists (spec.md §4.4 step 5, "Mighty Pups Charged Up" on ≥2
// adjacent segments), returning the stripped copies plus whether a prefix
// was found.
func stripSharedPrefix(tokenLists [][]string, maxPrefixTokens, minShared int) ([][]string, bool) {
	if len(tokenLists) < minShared {
		return tokenLists, false
	}

	shortest := -1
	for _, tl := range tokenLists {
		if shortest == -1 || len(tl) < shortest {
			shortest = len(tl)
		}
	}
	limit := maxPrefixTokens
	if shortest-1 < limit {
		limit = shortest - 1 // must leave at least one token of unique title behind
	}
	if limit <= 0 {
		return tokenLists, false
	}

	bestLen := 0
	for prefixLen := limit; prefixLen >= 1; prefixLen-- {
		matches := 0
		var candidate []string
		for _, tl := range tokenLists {
			if len(tl) <= prefixLen {
				continue
			}
			if candidate == nil {
				candidate = tl[:prefixLen]
				matches = 1
				continue
			}
			if equalTokens(candidate, tl[:prefixLen]) {
				matches++
			}
		}
		if matches >= minShared {
			bestLen = prefixLen
			break
		}
	}
	if bestLen == 0 {
		return tokenLists, false
	}

	out := make([][]string, len(tokenLists))
	prefix := tokenLists[0][:bestLen]
	for i, tl := range tokenLists {
		if len(tl) > bestLen && equalTokens(tl[:bestLen], prefix) {
			out[i] = append([]string(nil), tl[bestLen:]...)
		} else {
			out[i] = tl
		}
	}
	return out, true
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
