package store

import (
	"regexp"
	"strings"
)

// Tokenization rewrites applied before splitting on word boundaries.
// Order matters: section and currency rewrites run before the generic
// hyphen join so "non-compete" style compounds do not swallow them.
var (
	sectionSymbolRegex = regexp.MustCompile(`§\s*(\d+(?:\.\d+)*)`)
	sectionWordRegex   = regexp.MustCompile(`\bsection\s+(\d+(?:\.\d+)*)`)
	currencyRegex      = regexp.MustCompile(`\$\s*([\d,]+(?:\.\d+)?)`)
	hyphenRegex        = regexp.MustCompile(`([a-z]+)-([a-z]+)`)
	wordRegex          = regexp.MustCompile(`[\pL\pN_]+(?:\.[\pN]+)*`)
)

// stopWords is a deliberately minimal list: articles, prepositions, and
// common auxiliaries. Legal vocabulary must survive tokenization, so the
// list is small and the keep rule below is permissive.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"that": {}, "the": {}, "to": {}, "was": {}, "will": {}, "with": {},
}

// Tokenize splits text into an ordered, non-deduplicated term sequence
// with legal-domain normalization:
//
//	"§5.2" / "Section 5.2" -> section_5.2
//	"$1,000,000"           -> usd_1000000
//	"non-compete"          -> non_compete
//
// All terms are lowercased. A stop word is still kept when it is longer
// than 3 characters or contains an underscore, which preserves
// compounded legal terms. Repeats are preserved; they matter for
// scoring.
func Tokenize(text string) []string {
	text = strings.ToLower(text)

	text = sectionSymbolRegex.ReplaceAllString(text, "section_$1")
	text = sectionWordRegex.ReplaceAllString(text, "section_$1")

	text = currencyRegex.ReplaceAllStringFunc(text, func(m string) string {
		amount := currencyRegex.FindStringSubmatch(m)[1]
		return "usd_" + strings.ReplaceAll(amount, ",", "")
	})

	text = hyphenRegex.ReplaceAllString(text, "${1}_${2}")

	words := wordRegex.FindAllString(text, -1)

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop && len(w) <= 3 && !strings.Contains(w, "_") {
			continue
		}
		tokens = append(tokens, w)
	}

	return tokens
}

// TokenSet returns the distinct tokens of text, for intersection tests.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

// TermFrequencies counts token occurrences in an ordered term sequence.
func TermFrequencies(tokens []string) map[string]int {
	freqs := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freqs[t]++
	}
	return freqs
}
