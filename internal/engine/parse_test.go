package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/models"
)

func TestParseSectionsTypedHeadings(t *testing.T) {
	title, sections := ParseSections(sampleDocument)
	assert.Equal(t, "Chat", title)
	require.Len(t, sections, 3)

	assert.Equal(t, "executive-summary", sections[0].ID)
	assert.Equal(t, models.SectionExecutiveSummary, sections[0].SectionType)
	assert.Contains(t, sections[0].Content, "delivery receipts")

	assert.Equal(t, models.SectionFunctionalRequirements, sections[1].SectionType)
	assert.Equal(t, models.SectionTechnicalRequirements, sections[2].SectionType)

	for i, section := range sections {
		assert.Equal(t, i+1, section.Order)
	}
}

func TestParseSectionsUnmatchedHeadingIsAppendix(t *testing.T) {
	_, sections := ParseSections("# Doc\n\n## Glossary\n\nTerms.\n")
	require.Len(t, sections, 1)
	assert.Equal(t, models.SectionAppendix, sections[0].SectionType)
}

func TestParseSectionsTitleProse(t *testing.T) {
	_, sections := ParseSections("# Doc\n\nIntro paragraph.\n\n## Risks\n\nNone.\n")
	require.Len(t, sections, 2)
	assert.Equal(t, "Doc", sections[0].Title)
	assert.Equal(t, "Intro paragraph.", sections[0].Content)
	assert.Equal(t, models.SectionRisks, sections[1].SectionType)
}

func TestParseSectionsIgnoresFencedHeadings(t *testing.T) {
	content := "# Doc\n\n## Technical Requirements\n\n```\n# not a heading\n```\nAfter.\n"
	_, sections := ParseSections(content)
	require.Len(t, sections, 1)
	assert.Contains(t, sections[0].Content, "# not a heading")
	assert.Contains(t, sections[0].Content, "After.")
}

func TestParseSectionsDeepHeadingsIgnored(t *testing.T) {
	_, sections := ParseSections("# Doc\n\n## Timeline\n\n#### detail heading\nbody\n")
	require.Len(t, sections, 1)
	// Level-4 headings stay inside their parent section.
	assert.Contains(t, sections[0].Content, "#### detail heading")
}

func TestParseSectionsNoHeadings(t *testing.T) {
	title, sections := ParseSections("Just prose, no structure at all.")
	assert.Empty(t, title)
	require.Len(t, sections, 1)
	assert.Equal(t, models.SectionAppendix, sections[0].SectionType)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "executive-summary", Slug("Executive Summary"))
	assert.Equal(t, "non-functional-requirements", Slug("Non-Functional Requirements"))
	assert.Equal(t, "risks-mitigations", Slug("Risks & Mitigations!"))
	assert.Equal(t, "v2-rollout", Slug("  V2 Rollout  "))
}
