// Package chunker splits long text into word-bounded pieces that fit an
// upstream input budget.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the input budget used for chat-completion calls.
const DefaultMaxChars = 8000

// Split packs the whitespace-separated words of text greedily into chunks
// of at most maxChars characters. Every word costs its length plus one for
// the joining space. A word longer than the budget is emitted alone.
func Split(text string, maxChars int) []string {
	if maxChars < 1 {
		maxChars = 1
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var (
		chunks  []string
		current []string
		length  int
	)
	for _, word := range words {
		cost := utf8.RuneCountInString(word) + 1
		if length+cost > maxChars && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			length = 0
		}
		current = append(current, word)
		length += cost
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
