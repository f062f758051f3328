package cost

import (
	"math"
	"regexp"
	"strings"

	"github.com/aris-project/aris/internal/model"
)

// Estimate is the result of cost estimation for the `cost estimate` CLI
// command and for pre-hop authorization (spec §7).
type Estimate struct {
	EstimatedSearches int
	EstimatedTokens   int
	EstimatedCost     float64
	Confidence        float64
}

// baseSearches and baseTokens are per-depth baselines before the complexity
// multiplier is applied.
var baseSearches = map[model.Depth]int{
	model.DepthQuick:      2,
	model.DepthStandard:   6,
	model.DepthDeep:       9,
	model.DepthExhaustive: 20,
}

var baseTokens = map[model.Depth]int{
	model.DepthQuick:      2000,
	model.DepthStandard:   6000,
	model.DepthDeep:       10000,
	model.DepthExhaustive: 24000,
}

var modifierWords = regexp.MustCompile(`(?i)\b(compare|versus|vs|history|impact|analysis|trend|detailed|comprehensive|全面|evolution|future|alternatives)\b`)

// ComplexityScore derives a [0,1] score from query length, entity count
// (capitalized-word heuristic), modifier count, and domain-keyword density.
func ComplexityScore(query string) float64 {
	words := strings.Fields(query)
	if len(words) == 0 {
		return 0
	}

	lengthScore := clamp01(float64(len(words)) / 25.0)

	entityCount := 0
	for _, w := range words {
		r := []rune(w)
		if len(r) > 0 && r[0] >= 'A' && r[0] <= 'Z' {
			entityCount++
		}
	}
	entityScore := clamp01(float64(entityCount) / 5.0)

	modifierCount := len(modifierWords.FindAllString(query, -1))
	modifierScore := clamp01(float64(modifierCount) / 3.0)

	score := 0.45*lengthScore + 0.25*entityScore + 0.30*modifierScore
	return clamp01(score)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// EstimateConfidence is the estimate's own confidence, per spec §7: 0.85 for
// simple queries, 0.75 default, 0.65 for complex ones.
func EstimateConfidence(complexity float64) float64 {
	switch {
	case complexity < 0.3:
		return 0.85
	case complexity > 0.7:
		return 0.65
	default:
		return 0.75
	}
}

// ForQuery estimates cost for query at depth, using prices for unit costs.
func ForQuery(query string, depth model.Depth, prices PriceTable) Estimate {
	if prices == nil {
		prices = DefaultPriceTable
	}
	complexity := ComplexityScore(query)
	multiplier := 1.0 + complexity

	searches := int(math.Ceil(float64(baseSearches[depth]) * multiplier))
	tokens := int(math.Ceil(float64(baseTokens[depth]) * multiplier))

	searchCost := float64(searches) * prices.UnitCost("search")
	reasoningCost := (float64(tokens) / 1000.0) * (prices.UnitCost("reasoning_input") + prices.UnitCost("reasoning_output"))

	return Estimate{
		EstimatedSearches: searches,
		EstimatedTokens:   tokens,
		EstimatedCost:     searchCost + reasoningCost,
		Confidence:        EstimateConfidence(complexity),
	}
}

// PerHopFloor is the minimum remaining budget required to attempt another
// hop, used by the orchestrator's loop invariant (spec §4.7).
func PerHopFloor(prices PriceTable) float64 {
	if prices == nil {
		prices = DefaultPriceTable
	}
	return prices.UnitCost("search") + (float64(500)/1000.0)*prices.UnitCost("reasoning_input")
}
