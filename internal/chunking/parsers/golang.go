package parsers

import (
	"context"
	"regexp"
	"strings"

	"github.com/S-Corkum/prd-engine/internal/chunking"
	"github.com/S-Corkum/prd-engine/internal/models"
)

// Go regular expressions for extracting code structure
var (
	goFuncRegex = regexp.MustCompile(`(?m)^func\s+(?:\((\w+)\s+\*?(\w+)\)\s+)?(\w+)\s*(?:\[[^\]]*\])?\(`)

	goTypeRegex = regexp.MustCompile(`(?m)^type\s+(\w+)\s+(struct|interface)\s*\{`)

	goImportBlockRegex  = regexp.MustCompile(`(?ms)^import\s*\((.*?)\)`)
	goImportSingleRegex = regexp.MustCompile(`(?m)^import\s+(?:\w+\s+)?"([^"]+)"`)
	goImportLineRegex   = regexp.MustCompile(`(?:\w+\s+)?"([^"]+)"`)

	goConstBlockRegex = regexp.MustCompile(`(?ms)^const\s*\((.*?)\)`)
	goConstNameRegex  = regexp.MustCompile(`(?m)^\s*(\w+)`)
)

// GoParser extracts declaration-level chunks from Go source
type GoParser struct{}

// NewGoParser creates a new Go parser
func NewGoParser() *GoParser { return &GoParser{} }

func (p *GoParser) Language() string { return "go" }

func (p *GoParser) Parse(ctx context.Context, code string, filename string) ([]*chunking.CodeChunk, error) {
	var chunks []*chunking.CodeChunk
	imports := extractGoImports(code)

	// Functions and methods
	for _, match := range goFuncRegex.FindAllStringSubmatchIndex(code, -1) {
		name := code[match[6]:match[7]]
		if match[4] != -1 {
			name = code[match[4]:match[5]] + "." + name
		}
		end := findBraceEnd(code, match[0])
		if end < 0 {
			continue
		}
		content := code[match[0]:end]
		chunks = append(chunks, &chunking.CodeChunk{
			Type:      models.ChunkFunction,
			Name:      name,
			Content:   content,
			Language:  "go",
			StartLine: countLinesUpTo(code, match[0]) + 1,
			EndLine:   countLinesUpTo(code, end) + 1,
			Symbols:   []string{name},
			Imports:   imports,
		})
	}

	// Struct and interface declarations
	for _, match := range goTypeRegex.FindAllStringSubmatchIndex(code, -1) {
		name := code[match[2]:match[3]]
		kind := code[match[4]:match[5]]
		end := findBraceEnd(code, match[0])
		if end < 0 {
			continue
		}
		chunkType := models.ChunkStruct
		if kind == "interface" {
			chunkType = models.ChunkInterface
		}
		content := code[match[0]:end]
		chunks = append(chunks, &chunking.CodeChunk{
			Type:      chunkType,
			Name:      name,
			Content:   content,
			Language:  "go",
			StartLine: countLinesUpTo(code, match[0]) + 1,
			EndLine:   countLinesUpTo(code, end) + 1,
			Symbols:   []string{name},
			Imports:   imports,
		})
	}

	// Const blocks map onto the enum chunk type
	for _, match := range goConstBlockRegex.FindAllStringSubmatchIndex(code, -1) {
		body := code[match[2]:match[3]]
		var symbols []string
		for _, nameMatch := range goConstNameRegex.FindAllStringSubmatch(body, -1) {
			if nameMatch[1] != "" && nameMatch[1] != "iota" {
				symbols = append(symbols, nameMatch[1])
			}
		}
		content := code[match[0]:match[1]]
		chunks = append(chunks, &chunking.CodeChunk{
			Type:      models.ChunkEnum,
			Name:      firstOr(symbols, "const"),
			Content:   content,
			Language:  "go",
			StartLine: countLinesUpTo(code, match[0]) + 1,
			EndLine:   countLinesUpTo(code, match[1]) + 1,
			Symbols:   symbols,
			Imports:   imports,
		})
	}

	return chunks, nil
}

func extractGoImports(code string) []string {
	var imports []string
	if block := goImportBlockRegex.FindStringSubmatch(code); len(block) > 1 {
		for _, line := range goImportLineRegex.FindAllStringSubmatch(block[1], -1) {
			imports = append(imports, line[1])
		}
	}
	for _, single := range goImportSingleRegex.FindAllStringSubmatch(code, -1) {
		imports = append(imports, single[1])
	}
	return imports
}

// findBraceEnd returns the index one past the closing brace matching the
// first opening brace at or after start, or -1 when unbalanced.
func findBraceEnd(code string, start int) int {
	depth := 0
	opened := false
	inString := false
	inRaw := false
	inChar := false
	inLineComment := false
	inBlockComment := false

	for i := start; i < len(code); i++ {
		c := code[i]

		if inLineComment {
			if c == '\n' {
				inLineComment = false
			}
			continue
		}
		if inBlockComment {
			if c == '/' && i > 0 && code[i-1] == '*' {
				inBlockComment = false
			}
			continue
		}
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if inRaw {
			if c == '`' {
				inRaw = false
			}
			continue
		}
		if inChar {
			if c == '\\' {
				i++
			} else if c == '\'' {
				inChar = false
			}
			continue
		}

		switch c {
		case '/':
			if i+1 < len(code) {
				if code[i+1] == '/' {
					inLineComment = true
				} else if code[i+1] == '*' {
					inBlockComment = true
				}
			}
		case '"':
			inString = true
		case '`':
			inRaw = true
		case '\'':
			inChar = true
		case '{':
			depth++
			opened = true
		case '}':
			depth--
			if opened && depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func firstOr(symbols []string, fallback string) string {
	if len(symbols) > 0 {
		return symbols[0]
	}
	return fallback
}

func countLinesUpTo(s string, pos int) int {
	if pos > len(s) {
		pos = len(s)
	}
	return strings.Count(s[:pos], "\n")
}
