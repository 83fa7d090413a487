package parsers

import (
	"github.com/S-Corkum/prd-engine/internal/chunking"
)

// NewChunkingService creates a chunking service with all supported language
// parsers registered. Files in other languages get size-based chunking.
func NewChunkingService(targetSize, overlap int) *chunking.Service {
	service := chunking.NewService(targetSize, overlap)

	service.RegisterParser(NewGoParser())
	service.RegisterParser(NewJavaScriptParser())
	service.RegisterParser(NewTypeScriptParser())
	service.RegisterParser(NewPythonParser())

	return service
}
