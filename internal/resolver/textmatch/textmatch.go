// Package textmatch implements the normalization and matching rules shared by
// every discovery strategy, the scorer and the verifier.
package textmatch

import (
	"strings"
	"unicode"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

// Normalize lowercases s, drops every rune that is not a letter, digit or
// whitespace, and collapses runs of whitespace to one space.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// Compact is Normalize with the spaces removed as well.
func Compact(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}

// Words splits normalized text into its tokens.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}

// Match grades candidate against target.
//
// Exact normalized equality always matches. A multi-word target also matches
// when the candidate contains it as a phrase, when every target word is one of
// the candidate words, or when every target word overlaps a candidate word by
// containment. A single-token target matches only exactly, so "S" never
// matches "Small Bag".
func Match(target, candidate string) schemas.MatchLevel {
	t := Normalize(target)
	c := Normalize(candidate)
	if t == "" || c == "" {
		return schemas.MatchNone
	}
	if t == c {
		return schemas.MatchExact
	}

	targetWords := strings.Fields(t)
	if len(targetWords) < 2 {
		return schemas.MatchNone
	}
	candidateWords := strings.Fields(c)

	if containsPhrase(candidateWords, targetWords) {
		return schemas.MatchPhrase
	}
	if everyWord(targetWords, candidateWords, equalWord) {
		return schemas.MatchAllWords
	}
	if everyWord(targetWords, candidateWords, overlapWord) {
		return schemas.MatchPartial
	}
	return schemas.MatchNone
}

// Mentions reports whether haystack refers to target: an exact match, the
// target phrase at word boundaries, or, for a single token, membership among
// the haystack's words. It is used for readouts such as "Size: L".
func Mentions(haystack, target string) bool {
	targetWords := Words(target)
	if len(targetWords) == 0 {
		return false
	}
	return containsPhrase(Words(haystack), targetWords)
}

// Rank orders match levels from strongest (4) to none (0).
func Rank(level schemas.MatchLevel) int {
	switch level {
	case schemas.MatchExact:
		return 4
	case schemas.MatchPhrase:
		return 3
	case schemas.MatchAllWords:
		return 2
	case schemas.MatchPartial:
		return 1
	}
	return 0
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, w := range phrase {
			if words[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

func everyWord(targetWords, candidateWords []string, eq func(a, b string) bool) bool {
	for _, tw := range targetWords {
		found := false
		for _, cw := range candidateWords {
			if eq(tw, cw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func equalWord(a, b string) bool { return a == b }

// overlapWord allows containment either way, but a one-character fragment
// never counts as overlap.
func overlapWord(target, candidate string) bool {
	if target == candidate {
		return true
	}
	if len(candidate) > 1 && strings.Contains(target, candidate) {
		return true
	}
	return len(target) > 1 && strings.Contains(candidate, target)
}
