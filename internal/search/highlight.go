package search

import (
	"regexp"
	"strings"

	"github.com/clearbrief/lexindex/internal/store"
)

const (
	maxHighlights     = 3
	fallbackHighlight = 200
)

var sentenceEndRegex = regexp.MustCompile(`[.!?]['")\]]*\s+`)

// extractHighlights returns up to three sentences of the chunk whose
// tokens intersect the query's token set. When nothing intersects, the
// first 200 characters stand in so the result is never snippet-less.
func extractHighlights(chunkText string, queryTokens map[string]struct{}) []string {
	sentences := splitSentences(chunkText)

	var highlights []string
	for _, sentence := range sentences {
		if len(highlights) == maxHighlights {
			break
		}
		for _, token := range store.Tokenize(sentence) {
			if _, ok := queryTokens[token]; ok {
				highlights = append(highlights, strings.TrimSpace(sentence))
				break
			}
		}
	}

	if len(highlights) == 0 {
		fallback := chunkText
		if len(fallback) > fallbackHighlight {
			fallback = fallback[:fallbackHighlight]
		}
		highlights = []string{strings.TrimSpace(fallback)}
	}
	return highlights
}

func splitSentences(text string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceEndRegex.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[last:loc[1]])
		last = loc[1]
	}
	if last < len(text) {
		sentences = append(sentences, text[last:])
	}
	return sentences
}
