package parsers

import (
	"context"
	"regexp"

	"github.com/S-Corkum/prd-engine/internal/chunking"
	"github.com/S-Corkum/prd-engine/internal/models"
)

// JavaScript/TypeScript regular expressions for extracting code structure
var (
	jsFuncRegex = regexp.MustCompile(`(?m)^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)\s*\(`)

	jsArrowRegex = regexp.MustCompile(`(?m)^(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?(?:\([^)]*\)|\w+)\s*=>`)

	jsClassRegex = regexp.MustCompile(`(?m)^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`)

	tsInterfaceRegex = regexp.MustCompile(`(?m)^(?:export\s+)?interface\s+(\w+)`)

	tsEnumRegex = regexp.MustCompile(`(?m)^(?:export\s+)?(?:const\s+)?enum\s+(\w+)`)

	jsImportRegex = regexp.MustCompile(`(?m)^import\s+(?:[\w*{}\s,]+\s+from\s+)?['"]([^'"]+)['"]`)

	jsRequireRegex = regexp.MustCompile(`(?m)require\(\s*['"]([^'"]+)['"]\s*\)`)
)

// JavaScriptParser extracts declaration-level chunks from JavaScript and
// TypeScript source. TypeScript is a strict superset for the declarations
// this parser cares about, so one parser serves both.
type JavaScriptParser struct {
	language string
}

// NewJavaScriptParser creates a parser registered for JavaScript
func NewJavaScriptParser() *JavaScriptParser { return &JavaScriptParser{language: "javascript"} }

// NewTypeScriptParser creates a parser registered for TypeScript
func NewTypeScriptParser() *JavaScriptParser { return &JavaScriptParser{language: "typescript"} }

func (p *JavaScriptParser) Language() string { return p.language }

func (p *JavaScriptParser) Parse(ctx context.Context, code string, filename string) ([]*chunking.CodeChunk, error) {
	var chunks []*chunking.CodeChunk
	imports := extractJSImports(code)

	appendBraced := func(match []int, nameIdx int, chunkType models.CodeChunkType) {
		name := code[match[nameIdx]:match[nameIdx+1]]
		end := findBraceEnd(code, match[0])
		if end < 0 {
			return
		}
		chunks = append(chunks, &chunking.CodeChunk{
			Type:      chunkType,
			Name:      name,
			Content:   code[match[0]:end],
			Language:  p.language,
			StartLine: countLinesUpTo(code, match[0]) + 1,
			EndLine:   countLinesUpTo(code, end) + 1,
			Symbols:   []string{name},
			Imports:   imports,
		})
	}

	for _, match := range jsFuncRegex.FindAllStringSubmatchIndex(code, -1) {
		appendBraced(match, 2, models.ChunkFunction)
	}
	for _, match := range jsArrowRegex.FindAllStringSubmatchIndex(code, -1) {
		appendBraced(match, 2, models.ChunkFunction)
	}
	for _, match := range jsClassRegex.FindAllStringSubmatchIndex(code, -1) {
		appendBraced(match, 2, models.ChunkClass)
	}
	if p.language == "typescript" {
		for _, match := range tsInterfaceRegex.FindAllStringSubmatchIndex(code, -1) {
			appendBraced(match, 2, models.ChunkInterface)
		}
		for _, match := range tsEnumRegex.FindAllStringSubmatchIndex(code, -1) {
			appendBraced(match, 2, models.ChunkEnum)
		}
	}

	return chunks, nil
}

func extractJSImports(code string) []string {
	var imports []string
	for _, match := range jsImportRegex.FindAllStringSubmatch(code, -1) {
		imports = append(imports, match[1])
	}
	for _, match := range jsRequireRegex.FindAllStringSubmatch(code, -1) {
		imports = append(imports, match[1])
	}
	return imports
}
