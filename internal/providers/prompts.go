package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/S-Corkum/prd-engine/internal/models"
)

const systemPrompt = `You are a senior product manager. You write precise,
implementation-ready product requirements documents in markdown. Use "#" for
the document title and "##" for section headings.`

const analyzePromptTemplate = `Assess how completely the following product request
specifies what should be built.

Title: %s

Description:
%s

Respond with a single JSON object:
{"confidence": <0..1>, "ambiguities": ["..."], "entities": ["..."]}
confidence reflects specification completeness, ambiguities lists
underspecified aspects, entities lists the domain objects mentioned.`

const mockupPromptTemplate = `Analyze this product mockup for the request "%s".
Request description: %s
%s
Respond with a single JSON object matching this schema:
{"ui_elements": [{"type": "...", "label": "...", "bounds": {"x":0,"y":0,"w":0,"h":0}, "confidence": 0.0}],
 "extracted_text": [{"content": "...", "category": "heading|subheading|body|label|button|placeholder|error|other"}],
 "layout": {"screen_type": "...", "hierarchy_levels": 0, "primary_layout": "...", "component_groups": ["..."]},
 "color_scheme": ["#rrggbb"],
 "user_flows": ["..."],
 "business_logic": [{"description": "...", "confidence": 0.0}],
 "confidence": 0.0}`

// analyzePrompt renders the requirements analysis prompt
func analyzePrompt(title, description string) string {
	return fmt.Sprintf(analyzePromptTemplate, title, description)
}

// mockupPrompt renders the vision prompt, carrying prior analyses so the
// provider keeps element naming consistent across a request's mockups
func mockupPrompt(cmd MockupAnalysisCommand) string {
	var prior string
	if len(cmd.ExistingAnalyses) > 0 {
		names := make(map[string]bool)
		for _, analysis := range cmd.ExistingAnalyses {
			for _, el := range analysis.UIElements {
				if el.Label != "" {
					names[el.Label] = true
				}
			}
		}
		if len(names) > 0 {
			labels := make([]string, 0, len(names))
			for name := range names {
				labels = append(labels, name)
			}
			prior = "Earlier mockups of this request used these element labels, reuse them where applicable: " +
				strings.Join(labels, ", ") + "."
		}
	}
	return fmt.Sprintf(mockupPromptTemplate, cmd.RequestTitle, cmd.RequestDescription, prior)
}

// extractJSON pulls the first JSON object out of a model response,
// tolerating markdown code fences and surrounding prose
func extractJSON(response string) (string, error) {
	s := strings.TrimSpace(response)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", models.NewError(models.ErrProcessingFailed, "provider response contains no JSON object")
	}
	return s[start : end+1], nil
}

// parseRequirementsAnalysis decodes and clamps an analysis response
func parseRequirementsAnalysis(response string) (*RequirementsAnalysis, error) {
	raw, err := extractJSON(response)
	if err != nil {
		return nil, err
	}
	var analysis RequirementsAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to decode requirements analysis", err)
	}
	if analysis.Confidence < 0 {
		analysis.Confidence = 0
	}
	if analysis.Confidence > 1 {
		analysis.Confidence = 1
	}
	return &analysis, nil
}

// parseMockupAnalysis decodes a vision response and normalizes element types
// onto the closed enum
func parseMockupAnalysis(response string) (*models.MockupAnalysis, error) {
	raw, err := extractJSON(response)
	if err != nil {
		return nil, err
	}
	var analysis models.MockupAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to decode mockup analysis", err)
	}
	for i := range analysis.UIElements {
		analysis.UIElements[i].Type = models.NormalizeUIElementType(string(analysis.UIElements[i].Type))
	}
	if analysis.Confidence < 0 {
		analysis.Confidence = 0
	}
	if analysis.Confidence > 1 {
		analysis.Confidence = 1
	}
	return &analysis, nil
}
