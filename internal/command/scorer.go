package command

import "math"

const (
	baseConfidence      = 0.7
	utilityConfidence   = 0.9
	confidenceStep      = 0.1
	longMatchThreshold  = 50
	filledSlotThreshold = 5
)

// Score returns a heuristic confidence in [0,1] for a match. Utility intents
// score a fixed value; challenge intents start from a base and gain a step
// for a long match, many filled slots and a wildcard-free pattern.
func Score(m *Match) float64 {
	if m.Rule.Intent.Utility() {
		return utilityConfidence
	}
	score := baseConfidence
	if len(m.Text) > longMatchThreshold {
		score += confidenceStep
	}
	if m.Filled() > filledSlotThreshold {
		score += confidenceStep
	}
	if !m.Rule.Wildcard {
		score += confidenceStep
	}
	return math.Min(math.Round(score*100)/100, 1.0)
}
