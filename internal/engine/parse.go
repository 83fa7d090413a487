package engine

import (
	"strings"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// ParseSections splits generated markdown into typed sections on ATX
// headings of levels 1 to 3. The first level-1 heading becomes the document
// title; prose before any heading, or under the title heading, becomes a
// leading section carrying the document title. Section IDs are slugs of
// their headings.
func ParseSections(content string) (string, []models.PRDSection) {
	type block struct {
		heading string
		level   int
		body    []string
	}

	var blocks []block
	current := &block{} // preamble before the first heading
	inFence := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if level, heading, ok := parseHeading(trimmed); ok && !inFence {
			blocks = append(blocks, *current)
			current = &block{heading: heading, level: level}
			continue
		}
		current.body = append(current.body, line)
	}
	blocks = append(blocks, *current)

	title := ""
	var sections []models.PRDSection
	order := 1

	appendSection := func(heading, body string) {
		body = strings.TrimSpace(body)
		if heading == "" && body == "" {
			return
		}
		if heading == "" {
			heading = title
		}
		if heading == "" {
			heading = "Overview"
		}
		sections = append(sections, models.PRDSection{
			ID:          Slug(heading),
			Title:       heading,
			Content:     body,
			SectionType: models.ClassifySection(heading),
			Order:       order,
		})
		order++
	}

	for _, b := range blocks {
		body := strings.Join(b.body, "\n")
		if b.heading != "" && b.level == 1 && title == "" {
			title = b.heading
			// Only the prose under the title heading becomes a section.
			if strings.TrimSpace(body) != "" {
				appendSection(title, body)
			}
			continue
		}
		appendSection(b.heading, body)
	}
	return title, sections
}

// parseHeading recognizes ATX headings of level 1-3
func parseHeading(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level < 1 || level > 3 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	heading := strings.TrimSpace(line[level+1:])
	if heading == "" {
		return 0, "", false
	}
	return level, heading, true
}

// Slug derives a stable section identifier from a heading: lower-cased,
// non-alphanumeric runs collapsed to single hyphens
func Slug(heading string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(heading) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
