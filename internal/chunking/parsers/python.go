package parsers

import (
	"context"
	"regexp"
	"strings"

	"github.com/S-Corkum/prd-engine/internal/chunking"
	"github.com/S-Corkum/prd-engine/internal/models"
)

// Python regular expressions for extracting code structure
var (
	pyDefRegex = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*\(`)

	pyClassRegex = regexp.MustCompile(`^(\s*)class\s+(\w+)`)

	pyImportRegex = regexp.MustCompile(`(?m)^(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)
)

// PythonParser extracts top-level functions and classes by indentation
type PythonParser struct{}

// NewPythonParser creates a new Python parser
func NewPythonParser() *PythonParser { return &PythonParser{} }

func (p *PythonParser) Language() string { return "python" }

func (p *PythonParser) Parse(ctx context.Context, code string, filename string) ([]*chunking.CodeChunk, error) {
	var chunks []*chunking.CodeChunk
	imports := extractPythonImports(code)
	lines := strings.Split(code, "\n")

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		var name string
		var chunkType models.CodeChunkType
		var indent string
		if match := pyClassRegex.FindStringSubmatch(line); match != nil {
			indent, name, chunkType = match[1], match[2], models.ChunkClass
		} else if match := pyDefRegex.FindStringSubmatch(line); match != nil {
			if match[1] != "" {
				continue // methods stay inside their class chunk
			}
			indent, name, chunkType = match[1], match[2], models.ChunkFunction
		} else {
			continue
		}
		if chunkType == models.ChunkClass && indent != "" {
			continue
		}

		end := findIndentedBlockEnd(lines, i, len(indent))
		content := strings.Join(lines[i:end], "\n")
		chunks = append(chunks, &chunking.CodeChunk{
			Type:      chunkType,
			Name:      name,
			Content:   content,
			Language:  "python",
			StartLine: i + 1,
			EndLine:   end,
			Symbols:   []string{name},
			Imports:   imports,
		})
		i = end - 1
	}

	return chunks, nil
}

// findIndentedBlockEnd returns the exclusive end line of a block opened at
// start with the given indentation depth.
func findIndentedBlockEnd(lines []string, start, indent int) int {
	end := start + 1
	for end < len(lines) {
		line := lines[end]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end++
			continue
		}
		if indentOf(line) <= indent {
			break
		}
		end++
	}
	// Drop trailing blank lines from the block.
	for end > start+1 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return end
}

func indentOf(line string) int {
	n := 0
	for _, c := range line {
		switch c {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

func extractPythonImports(code string) []string {
	var imports []string
	for _, match := range pyImportRegex.FindAllStringSubmatch(code, -1) {
		if match[1] != "" {
			imports = append(imports, match[1])
		} else if match[2] != "" {
			imports = append(imports, match[2])
		}
	}
	return imports
}
