package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/models"
)

func exportableDocument() *models.PRDDocument {
	return &models.PRDDocument{
		Title:       "Chat App: V2!",
		Content:     sampleDocument,
		GeneratedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestExportMarkdown(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 5, 0, time.UTC)
	export, err := ExportDocument(exportableDocument(), "markdown", now)
	require.NoError(t, err)
	assert.Equal(t, sampleDocument, string(export.Body))
	assert.Equal(t, "text/markdown", export.MIMEType)
	assert.Equal(t, "chat_app_v2_20260314_093005.md", export.Filename)
}

func TestExportHTMLEscapes(t *testing.T) {
	doc := exportableDocument()
	doc.Content = "# Title\n\nUse `<select>` & friends."
	export, err := ExportDocument(doc, "html", time.Now())
	require.NoError(t, err)

	body := string(export.Body)
	assert.True(t, strings.HasPrefix(body, "<!DOCTYPE html>"))
	assert.Contains(t, body, "&lt;select&gt;")
	assert.Contains(t, body, "&amp; friends")
	assert.NotContains(t, body, "<select>")
}

func TestExportJSONRoundTrip(t *testing.T) {
	export, err := ExportDocument(exportableDocument(), "json", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "application/json", export.MIMEType)

	content, err := DecodeJSONExport(export.Body)
	require.NoError(t, err)
	assert.Equal(t, sampleDocument, content, "markdown must survive the JSON round trip byte-for-byte")
}

func TestExportUnsupportedFormats(t *testing.T) {
	for _, format := range []string{"pdf", "docx"} {
		_, err := ExportDocument(exportableDocument(), format, time.Now())
		require.Error(t, err, format)
		assert.Equal(t, models.ErrValidation, models.KindOf(err))
		// The MIME type stays negotiable even though export is rejected.
		assert.NotEmpty(t, ExportFormats[format])
	}

	_, err := ExportDocument(exportableDocument(), "rtf", time.Now())
	require.Error(t, err)
}

func TestExportFilenameSanitization(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "chat_app_v2_20260102_030405.md", ExportFilename("Chat App: V2!", "markdown", now))
	assert.Equal(t, "document_20260102_030405.json", ExportFilename("???", "json", now))

	long := strings.Repeat("a", 80)
	name := ExportFilename(long, "html", now)
	assert.Equal(t, strings.Repeat("a", 50)+"_20260102_030405.html", name)
}
