// Package chunking splits source files into semantically coherent chunks for
// embedding and retrieval. Language parsers preserve enclosing declarations;
// files in unsupported languages fall back to size-based chunking with
// overlap.
package chunking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// CodeChunk is one extracted slice of a source file
type CodeChunk struct {
	Type       models.CodeChunkType
	Name       string
	Content    string
	Language   string
	StartLine  int
	EndLine    int
	Symbols    []string
	Imports    []string
	TokenCount int
}

// ContentHash returns the dedup digest of the chunk body
func (c *CodeChunk) ContentHash() string {
	sum := sha256.Sum256([]byte(c.Content))
	return hex.EncodeToString(sum[:])
}

// LanguageParser is the interface for language-specific code parsers
type LanguageParser interface {
	Parse(ctx context.Context, code string, filename string) ([]*CodeChunk, error)
	Language() string
}

// Defaults for size-based fallback chunking
const (
	DefaultTargetSize = 2500
	DefaultOverlap    = 200
)

// Service provides code chunking capabilities
type Service struct {
	parsers    map[string]LanguageParser
	targetSize int
	overlap    int
}

// NewService creates a Service with the given fallback geometry. Zero values
// select the defaults.
func NewService(targetSize, overlap int) *Service {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if overlap < 0 || overlap >= targetSize {
		overlap = DefaultOverlap
	}
	return &Service{
		parsers:    make(map[string]LanguageParser),
		targetSize: targetSize,
		overlap:    overlap,
	}
}

// RegisterParser registers a language parser
func (s *Service) RegisterParser(parser LanguageParser) {
	s.parsers[parser.Language()] = parser
}

// DetectLanguage detects the language of a file from its extension
func (s *Service) DetectLanguage(filename string) string {
	switch ext(filename) {
	case ".go":
		return "go"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".py":
		return "python"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".rs":
		return "rust"
	case ".cs":
		return "csharp"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cxx", ".cc", ".hpp":
		return "cpp"
	case ".swift":
		return "swift"
	case ".kt", ".kts":
		return "kotlin"
	case ".md", ".markdown":
		return "markdown"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "unknown"
	}
}

// ChunkFile chunks the provided file into logical units
func (s *Service) ChunkFile(ctx context.Context, filename, code string) ([]*CodeChunk, error) {
	language := s.DetectLanguage(filename)

	parser, exists := s.parsers[language]
	if !exists {
		return s.fallbackChunks(code, language), nil
	}

	chunks, err := parser.Parse(ctx, code, filename)
	if err != nil || len(chunks) == 0 {
		// A parser failure never fails the file; size-based chunking covers it.
		return s.fallbackChunks(code, language), nil
	}

	for _, chunk := range chunks {
		if chunk.TokenCount == 0 {
			chunk.TokenCount = EstimateTokens(chunk.Content)
		}
		if chunk.Language == "" {
			chunk.Language = language
		}
	}
	return chunks, nil
}

// fallbackChunks splits code into fixed-size windows with overlap, breaking
// on line boundaries where possible.
func (s *Service) fallbackChunks(code, language string) []*CodeChunk {
	if strings.TrimSpace(code) == "" {
		return nil
	}

	var chunks []*CodeChunk
	lines := strings.Split(code, "\n")
	start := 0
	for start < len(lines) {
		size := 0
		end := start
		for end < len(lines) && size+len(lines[end])+1 <= s.targetSize {
			size += len(lines[end]) + 1
			end++
		}
		if end == start {
			end = start + 1 // single oversize line
		}

		content := strings.Join(lines[start:end], "\n")
		chunks = append(chunks, &CodeChunk{
			Type:       models.ChunkOther,
			Content:    content,
			Language:   language,
			StartLine:  start + 1,
			EndLine:    end,
			TokenCount: EstimateTokens(content),
		})

		if end >= len(lines) {
			break
		}
		// Step back to carry overlap into the next window.
		back := 0
		next := end
		for next > start+1 && back < s.overlap {
			next--
			back += len(lines[next]) + 1
		}
		start = next
	}
	return chunks
}

// EstimateTokens approximates the token count of code at one token per three
// characters, matching the context pipeline's estimator.
func EstimateTokens(code string) int {
	n := (len(code) + 2) / 3
	if n < 1 && len(code) > 0 {
		n = 1
	}
	return n
}

func ext(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return strings.ToLower(filename[i:])
		}
		if filename[i] == '/' || filename[i] == '\\' {
			break
		}
	}
	return ""
}
