package engine

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/providers"
)

// Clarification categories used for ranking
const (
	categoryBusinessLogic = "business logic"
	categoryData          = "data"
	categorySecurity      = "security"
	categoryUserFlow      = "user flow"
	categoryRequirement   = "requirement"
	categoryOther         = "other"
)

// formComponents are UI element types that collect user input; their absence
// from every mockup suggests the data model is underspecified
var formComponents = map[models.UIElementType]bool{
	models.UITextField:   true,
	models.UIDropdown:    true,
	models.UICheckbox:    true,
	models.UIRadioButton: true,
	models.UIToggle:      true,
	models.UISlider:      true,
	models.UISearchBar:   true,
}

// DeriveFromAnalysis turns provider-flagged ambiguities into clarification
// questions, categorized by keyword
func DeriveFromAnalysis(analysis *providers.RequirementsAnalysis) []models.Clarification {
	if analysis == nil {
		return nil
	}
	var clarifications []models.Clarification
	for _, ambiguity := range analysis.Ambiguities {
		ambiguity = strings.TrimSpace(ambiguity)
		if ambiguity == "" {
			continue
		}
		question := ambiguity
		if !strings.HasSuffix(question, "?") {
			question = "Can you clarify: " + question + "?"
		}
		clarifications = append(clarifications, models.Clarification{
			ID:       uuid.New(),
			Question: question,
			Category: classifyCategory(ambiguity),
		})
	}
	return clarifications
}

// DeriveFromMockups raises questions when the mockups leave gaps: visible
// components without inferred behavior, fewer flows than behaviors, or no
// input components at all
func DeriveFromMockups(consolidated *models.ConsolidatedAnalysis) []models.Clarification {
	if consolidated == nil || consolidated.MockupCount == 0 {
		return nil
	}
	var clarifications []models.Clarification

	if len(consolidated.BusinessLogic) == 0 && len(consolidated.UIElementTypes) > 0 {
		clarifications = append(clarifications, models.Clarification{
			ID:       uuid.New(),
			Question: "The mockups show UI components but no business rules could be inferred. What rules govern the behavior behind these screens?",
			Category: categoryBusinessLogic,
		})
	}
	if len(consolidated.UserFlows) < len(consolidated.BusinessLogic) {
		clarifications = append(clarifications, models.Clarification{
			ID:       uuid.New(),
			Question: "Some inferred behaviors have no corresponding user flow in the mockups. Can you describe the complete user flows?",
			Category: categoryUserFlow,
		})
	}
	hasInput := false
	for _, elementType := range consolidated.UIElementTypes {
		if formComponents[elementType] {
			hasInput = true
			break
		}
	}
	if !hasInput {
		clarifications = append(clarifications, models.Clarification{
			ID:       uuid.New(),
			Question: "The mockups show no input components. What data does the user provide, and where is it collected?",
			Category: categoryData,
		})
	}
	return clarifications
}

// MergeClarifications combines derived questions with a prior answered
// round: duplicates collapse on normalized question text, answers are
// carried over, and the result is ranked high to low
func MergeClarifications(groups ...[]models.Clarification) []models.Clarification {
	seen := make(map[string]int)
	var merged []models.Clarification
	for _, group := range groups {
		for _, c := range group {
			key := normalizeQuestion(c.Question)
			if key == "" {
				continue
			}
			if i, ok := seen[key]; ok {
				// Keep the first phrasing; carry the answer over.
				if merged[i].Answer == "" && c.Answer != "" {
					merged[i].Answer = c.Answer
				}
				continue
			}
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			if c.Category == "" {
				c.Category = classifyCategory(c.Question)
			}
			seen[key] = len(merged)
			merged = append(merged, c)
		}
	}
	return Rank(merged)
}

// Rank assigns three-tier priorities by category and sorts high to low.
// Ordering is stable within a tier.
func Rank(clarifications []models.Clarification) []models.Clarification {
	for i := range clarifications {
		clarifications[i].Priority = tierFor(clarifications[i].Category)
	}
	sort.SliceStable(clarifications, func(i, j int) bool {
		return tierRank(clarifications[i].Priority) < tierRank(clarifications[j].Priority)
	})
	return clarifications
}

func tierFor(category string) models.ClarificationPriority {
	switch category {
	case categoryBusinessLogic, categoryData, categorySecurity:
		return models.ClarificationHigh
	case categoryUserFlow, categoryRequirement:
		return models.ClarificationMedium
	default:
		return models.ClarificationLow
	}
}

func tierRank(p models.ClarificationPriority) int {
	switch p {
	case models.ClarificationHigh:
		return 0
	case models.ClarificationMedium:
		return 1
	default:
		return 2
	}
}

// classifyCategory infers a clarification category from its text
func classifyCategory(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "security"), strings.Contains(lower, "auth"),
		strings.Contains(lower, "permission"), strings.Contains(lower, "encrypt"):
		return categorySecurity
	case strings.Contains(lower, "data"), strings.Contains(lower, "storage"),
		strings.Contains(lower, "schema"), strings.Contains(lower, "field"):
		return categoryData
	case strings.Contains(lower, "business"), strings.Contains(lower, "rule"),
		strings.Contains(lower, "logic"), strings.Contains(lower, "payment"):
		return categoryBusinessLogic
	case strings.Contains(lower, "flow"), strings.Contains(lower, "journey"),
		strings.Contains(lower, "navigat"):
		return categoryUserFlow
	case strings.Contains(lower, "requirement"), strings.Contains(lower, "feature"),
		strings.Contains(lower, "scope"):
		return categoryRequirement
	default:
		return categoryOther
	}
}

func normalizeQuestion(question string) string {
	normalized := strings.ToLower(strings.TrimSpace(question))
	normalized = strings.TrimSuffix(normalized, "?")
	return strings.Join(strings.Fields(normalized), " ")
}
