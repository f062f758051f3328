package dedupe

import (
	"math"
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases and splits s into word tokens, stripping punctuation.
func tokenize(s string) []string {
	return wordPattern.FindAllString(strings.ToLower(s), -1)
}

// termFrequency builds a normalized term-frequency vector from tokens.
func termFrequency(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	var total float64
	for _, c := range tf {
		total += c
	}
	if total == 0 {
		return tf
	}
	for tok, c := range tf {
		tf[tok] = c / total
	}
	return tf
}

// LexicalSimilarity computes a cosine similarity between the term-frequency
// vectors of a and b. Used as the fallback signal when the embedding
// provider is unavailable (spec §4.5 point 6).
func LexicalSimilarity(a, b string) float64 {
	va := termFrequency(tokenize(a))
	vb := termFrequency(tokenize(b))
	if len(va) == 0 || len(vb) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for tok, wa := range va {
		normA += wa * wa
		if wb, ok := vb[tok]; ok {
			dot += wa * wb
		}
	}
	for _, wb := range vb {
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
