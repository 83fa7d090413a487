package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/providers"
)

func TestDeriveFromAnalysisCategorizes(t *testing.T) {
	analysis := &providers.RequirementsAnalysis{
		Ambiguities: []string{
			"Which authentication scheme is required",
			"What data fields does a profile carry",
			"the onboarding flow after signup",
			"expected latency",
		},
	}
	clarifications := DeriveFromAnalysis(analysis)
	require.Len(t, clarifications, 4)

	assert.Equal(t, categorySecurity, clarifications[0].Category)
	assert.Equal(t, "Can you clarify: Which authentication scheme is required?", clarifications[0].Question)
	assert.Equal(t, categoryData, clarifications[1].Category)
	assert.Equal(t, categoryUserFlow, clarifications[2].Category)
	assert.Equal(t, categoryOther, clarifications[3].Category)
}

func TestDeriveFromMockupsGaps(t *testing.T) {
	// Components without behavior, no input components, flows < behaviors
	// are each flagged.
	consolidated := &models.ConsolidatedAnalysis{
		MockupCount:    1,
		UIElementTypes: []models.UIElementType{models.UIButton, models.UICard},
	}
	clarifications := DeriveFromMockups(consolidated)
	require.Len(t, clarifications, 2)
	assert.Equal(t, categoryBusinessLogic, clarifications[0].Category)
	assert.Equal(t, categoryData, clarifications[1].Category)

	// With input components and matching flows, nothing is asked.
	consolidated = &models.ConsolidatedAnalysis{
		MockupCount:    1,
		UIElementTypes: []models.UIElementType{models.UITextField},
		UserFlows:      []string{"signup"},
		BusinessLogic:  []models.BusinessLogicInference{{Description: "validate email"}},
	}
	assert.Empty(t, DeriveFromMockups(consolidated))

	assert.Empty(t, DeriveFromMockups(nil))
}

func TestMergeClarificationsDedupsAndRanks(t *testing.T) {
	derived := []models.Clarification{
		{Question: "What data is collected?", Category: categoryData},
		{Question: "Describe the checkout flow.", Category: categoryUserFlow},
		{Question: "Anything else?", Category: categoryOther},
	}
	answers := []models.Clarification{
		{Question: "what data is collected", Answer: "Email and shipping address."},
	}

	merged := MergeClarifications(derived, nil, answers)
	require.Len(t, merged, 3)

	// High tier first, answer carried onto the deduplicated question.
	assert.Equal(t, models.ClarificationHigh, merged[0].Priority)
	assert.Equal(t, "What data is collected?", merged[0].Question)
	assert.Equal(t, "Email and shipping address.", merged[0].Answer)
	assert.Equal(t, models.ClarificationMedium, merged[1].Priority)
	assert.Equal(t, models.ClarificationLow, merged[2].Priority)
}

func TestRankIsStableWithinTier(t *testing.T) {
	ranked := Rank([]models.Clarification{
		{Question: "a", Category: categoryOther},
		{Question: "b", Category: categorySecurity},
		{Question: "c", Category: categoryBusinessLogic},
		{Question: "d", Category: categoryRequirement},
	})
	assert.Equal(t, "b", ranked[0].Question)
	assert.Equal(t, "c", ranked[1].Question)
	assert.Equal(t, "d", ranked[2].Question)
	assert.Equal(t, "a", ranked[3].Question)
}
