// Package lexical scores keyword overlap between a query and memory content.
package lexical

import (
	"strings"
	"unicode/utf8"
)

// PhraseBonus is added when the whole query occurs in the content.
const PhraseBonus = 0.3

// minPhraseLen is the trimmed query length, in characters, a phrase match
// must exceed.
const minPhraseLen = 3

// Terms returns the distinct lower-cased whitespace-separated words of s in
// first-seen order.
func Terms(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	seen := make(map[string]struct{}, len(fields))
	terms := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// Score is the Jaccard similarity of the word sets of query and content,
// plus PhraseBonus when the lowered query is a substring of the lowered
// content and longer than three characters. The result is capped at 1.
// An empty query scores 0.
func Score(query, content string) float64 {
	q := wordSet(query)
	if len(q) == 0 {
		return 0
	}
	c := wordSet(content)

	inter := 0
	for w := range q {
		if _, ok := c[w]; ok {
			inter++
		}
	}
	union := len(q) + len(c) - inter

	score := float64(inter) / float64(union)
	if utf8.RuneCountInString(strings.TrimSpace(query)) > minPhraseLen &&
		strings.Contains(strings.ToLower(content), strings.ToLower(query)) {
		score += PhraseBonus
	}
	return min(1.0, score)
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
