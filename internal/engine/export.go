package engine

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// ExportFormats maps each negotiable format to its MIME type. PDF and DOCX
// are declared for content negotiation but rejected at export time.
var ExportFormats = map[string]string{
	"markdown": "text/markdown",
	"html":     "text/html",
	"json":     "application/json",
	"pdf":      "application/pdf",
	"docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

var exportExtensions = map[string]string{
	"markdown": "md",
	"html":     "html",
	"json":     "json",
}

// Export is one rendered download of a document
type Export struct {
	Body     []byte
	Filename string
	MIMEType string
}

// jsonExport is the wire shape of the JSON export variant. Content carries
// the canonical markdown byte-for-byte.
type jsonExport struct {
	Content     string    `json:"content"`
	Format      string    `json:"format"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ExportDocument renders a document in the requested format with a
// timestamped, sanitized filename
func ExportDocument(doc *models.PRDDocument, format string, now time.Time) (*Export, error) {
	mimeType, known := ExportFormats[format]
	if !known {
		return nil, models.NewErrorf(models.ErrValidation, "unknown export format %q", format)
	}

	var body []byte
	switch format {
	case "markdown":
		body = []byte(doc.Content)
	case "html":
		body = []byte(renderHTML(doc))
	case "json":
		encoded, err := json.Marshal(jsonExport{
			Content:     doc.Content,
			Format:      "markdown",
			GeneratedAt: doc.GeneratedAt,
		})
		if err != nil {
			return nil, models.WrapError(models.ErrProcessingFailed, "encoding export", err)
		}
		body = encoded
	default:
		return nil, models.NewErrorf(models.ErrValidation,
			"format %q is not supported by this deployment", format)
	}

	return &Export{
		Body:     body,
		Filename: ExportFilename(doc.Title, format, now),
		MIMEType: mimeType,
	}, nil
}

// DecodeJSONExport extracts the canonical markdown from a JSON export
func DecodeJSONExport(body []byte) (string, error) {
	var decoded jsonExport
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", models.WrapError(models.ErrValidation, "decoding export", err)
	}
	return decoded.Content, nil
}

// renderHTML wraps the escaped markdown in a minimal HTML5 skeleton
func renderHTML(doc *models.PRDDocument) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(doc.Title))
	b.WriteString("</head>\n<body>\n<pre>\n")
	b.WriteString(html.EscapeString(doc.Content))
	b.WriteString("\n</pre>\n</body>\n</html>\n")
	return b.String()
}

// maxFilenameTitle bounds the sanitized title portion of an export filename
const maxFilenameTitle = 50

// ExportFilename builds `<sanitized_title>_<yyyyMMdd_HHmmss>.<ext>`
func ExportFilename(title, format string, now time.Time) string {
	ext, ok := exportExtensions[format]
	if !ok {
		ext = format
	}
	return fmt.Sprintf("%s_%s.%s", sanitizeTitle(title), now.UTC().Format("20060102_150405"), ext)
}

// sanitizeTitle lower-cases the title and restricts it to [a-z0-9_-],
// truncated to 50 characters
func sanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	sanitized := b.String()
	if len(sanitized) > maxFilenameTitle {
		sanitized = sanitized[:maxFilenameTitle]
	}
	if sanitized == "" {
		sanitized = "document"
	}
	return sanitized
}
