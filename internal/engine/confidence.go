package engine

import "github.com/S-Corkum/prd-engine/internal/models"

// Confidence bonuses layered on top of the provider's textual score. Mockups
// raise confidence proportionally to how much structure they revealed;
// answered clarifications raise it a fixed step each.
const (
	maxMockupBonus = 0.35

	featureBonusStep   = 0.03
	flowBonusStep      = 0.02
	componentBonusStep = 0.01

	answerBonusStep = 0.05
	maxAnswerBonus  = 0.30
)

// MockupBonus scores how much the consolidated mockup analysis adds to
// requirement confidence. Features are the inferred business behaviors,
// flows the user journeys, components the distinct UI element types.
func MockupBonus(consolidated *models.ConsolidatedAnalysis) float64 {
	if consolidated == nil || consolidated.MockupCount == 0 {
		return 0
	}
	bonus := featureBonusStep*float64(minCount(5, len(consolidated.BusinessLogic))) +
		flowBonusStep*float64(minCount(5, len(consolidated.UserFlows))) +
		componentBonusStep*float64(minCount(10, len(consolidated.UIElementTypes)))
	if bonus > maxMockupBonus {
		bonus = maxMockupBonus
	}
	return bonus
}

// CombineConfidence fuses the textual confidence with the mockup bonus and
// the answered-clarification bonus, clamped to 1
func CombineConfidence(textConfidence float64, consolidated *models.ConsolidatedAnalysis, answeredCount int) float64 {
	confidence := textConfidence + MockupBonus(consolidated)

	answerBonus := answerBonusStep * float64(answeredCount)
	if answerBonus > maxAnswerBonus {
		answerBonus = maxAnswerBonus
	}
	confidence += answerBonus

	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func minCount(limit, n int) int {
	if n < limit {
		return n
	}
	return limit
}
