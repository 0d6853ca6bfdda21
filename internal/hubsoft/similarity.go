package hubsoft

import "strings"

// similarityThreshold is the minimum Jaccard score for two descriptions to
// be considered the same underlying complaint during offline-ticket
// reconciliation.
const similarityThreshold = 0.30

// DescriptionSimilarity scores two free-text descriptions by token-set
// Jaccard similarity: whitespace-tokenized, lowercased, no stemming.
func DescriptionSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}

// BestMatch returns the candidate atendimento whose description is most
// similar to description, and whether that similarity clears
// similarityThreshold.
func BestMatch(description string, candidates []Atendimento, descriptionOf func(Atendimento) string) (Atendimento, bool) {
	var best Atendimento
	bestScore := 0.0
	found := false

	for _, cand := range candidates {
		score := DescriptionSimilarity(description, descriptionOf(cand))
		if score > bestScore {
			bestScore = score
			best = cand
			found = true
		}
	}

	if !found || bestScore < similarityThreshold {
		return Atendimento{}, false
	}
	return best, true
}
