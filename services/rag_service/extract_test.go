package rag_service

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serisow/docstore/rag_type"
)

func TestExtractPlainText(t *testing.T) {
	e := NewDocumentExtractor(testLogger())

	tests := []struct {
		name      string
		mediaType string
		input     []byte
		expected  string
		err       error
	}{
		{
			name:      "utf8 text",
			mediaType: rag_type.MimeTXT,
			input:     []byte("Grüße aus Köln.\nZweite Zeile."),
			expected:  "Grüße aus Köln.\nZweite Zeile.",
		},
		{
			name:      "charset parameter and BOM",
			mediaType: "text/plain; charset=utf-8",
			input:     append([]byte{0xEF, 0xBB, 0xBF}, "hello"...),
			expected:  "hello",
		},
		{
			name:      "empty file",
			mediaType: rag_type.MimeTXT,
			input:     nil,
			expected:  "",
		},
		{
			name:      "invalid utf8",
			mediaType: rag_type.MimeTXT,
			input:     []byte{0xff, 0xfe, 0xfd},
			err:       rag_type.ErrExtraction,
		},
		{
			name:      "html is not accepted",
			mediaType: "text/html",
			input:     []byte("<p>hi</p>"),
			err:       rag_type.ErrUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := e.Extract(context.Background(), bytes.NewReader(tt.input), tt.mediaType)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, text)
		})
	}
}

// buildPDF writes a minimal PDF with one page per content stream. Pages
// lists one more page than it has kids, so the last page resolves to null.
func buildPDF(contents ...string) []byte {
	var objects []string
	kids := make([]string, len(contents))
	fontID := 3 + 2*len(contents)
	for i, c := range contents {
		pageID, streamID := 3+2*i, 4+2*i
		kids[i] = fmt.Sprintf("%d 0 R", pageID)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontID, streamID),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(c), c))
	}
	objects = append([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(contents)+1),
	}, objects...)
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtractPDF(t *testing.T) {
	e := NewDocumentExtractor(testLogger())

	tests := []struct {
		name     string
		pages    []string
		expected string
	}{
		{
			name:     "text pages are concatenated and blank pages add nothing",
			pages:    []string{"BT /F1 12 Tf 72 720 Td (Hello board report) Tj ET", "q Q", "BT /F1 12 Tf 72 720 Td (Second page) Tj ET"},
			expected: "Hello board reportSecond page",
		},
		{
			name:     "pages without text",
			pages:    []string{"q Q"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := e.Extract(context.Background(), bytes.NewReader(buildPDF(tt.pages...)), rag_type.MimePDF)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, text)
		})
	}
}

func TestExtractPDFMalformedPageContent(t *testing.T) {
	e := NewDocumentExtractor(testLogger())
	// Tj without an operand makes the content parser panic; the page is skipped.
	data := buildPDF("BT /F1 12 Tf Tj ET", "BT /F1 12 Tf 72 720 Td (kept) Tj ET")

	text, err := e.ExtractTextFromPDF(data)
	require.NoError(t, err)
	assert.Equal(t, "kept", text)
}

func TestExtractInvalidPDF(t *testing.T) {
	e := NewDocumentExtractor(testLogger())
	_, err := e.Extract(context.Background(), strings.NewReader("this is not a pdf"), rag_type.MimePDF)
	assert.ErrorIs(t, err, rag_type.ErrExtraction)
}

func TestExtractCancelled(t *testing.T) {
	e := NewDocumentExtractor(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Extract(ctx, strings.NewReader("text"), rag_type.MimeTXT)
	assert.ErrorIs(t, err, rag_type.ErrExtraction)
}

func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, content string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	write("[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`)

	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	write("word/document.xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`+
		body.String()+`</w:body></w:document>`)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDocx(t *testing.T) {
	e := NewDocumentExtractor(testLogger())
	data := buildDocx(t, "Quarterly report for the board", "Revenue grew by twelve percent")

	text, err := e.Extract(context.Background(), bytes.NewReader(data), rag_type.MimeDOCX)
	require.NoError(t, err)
	assert.Contains(t, text, "Quarterly report for the board")
	assert.Contains(t, text, "Revenue grew by twelve percent")
}

func TestCheckLegacyWordSupport(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the converter")
	}
	dir := t.TempDir()
	t.Setenv("PATH", dir)
	assert.Error(t, CheckLegacyWordSupport())

	require.NoError(t, os.WriteFile(filepath.Join(dir, legacyWordConverter), []byte("#!/bin/sh\n"), 0755))
	assert.NoError(t, CheckLegacyWordSupport())
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		mediaType string
		expected  rag_type.Category
		ok        bool
	}{
		{rag_type.MimePDF, rag_type.CategoryPDF, true},
		{rag_type.MimeDOCX, rag_type.CategoryDOCX, true},
		{rag_type.MimeDOC, rag_type.CategoryDOC, true},
		{"text/plain; charset=utf-8", rag_type.CategoryTXT, true},
		{"TEXT/PLAIN", rag_type.CategoryTXT, true},
		{"image/png", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		c, ok := CategoryFor(tt.mediaType)
		assert.Equal(t, tt.ok, ok, tt.mediaType)
		assert.Equal(t, tt.expected, c, tt.mediaType)
	}
}
