package rag_service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os/exec"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"
	"github.com/serisow/docstore/rag_type"
)

// readChunkSize bounds each read from an upload stream.
const readChunkSize = 1 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextExtractor turns an uploaded file into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, r io.Reader, mediaType string) (string, error)
}

type DocumentExtractor struct {
	logger *slog.Logger
}

func NewDocumentExtractor(logger *slog.Logger) *DocumentExtractor {
	return &DocumentExtractor{
		logger: logger,
	}
}

// Extract reads r fully and dispatches on the declared media type.
// application/msword needs the wvText binary (wv package) on PATH; see
// CheckLegacyWordSupport.
func (e *DocumentExtractor) Extract(ctx context.Context, r io.Reader, mediaType string) (string, error) {
	mt := normalizeMediaType(mediaType)
	if _, ok := rag_type.AllowedContentTypes[mt]; !ok {
		return "", fmt.Errorf("%w: %s", rag_type.ErrUnsupportedMediaType, mediaType)
	}

	data, err := readAll(ctx, r)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read upload: %v", rag_type.ErrExtraction, err)
	}

	switch mt {
	case rag_type.MimePDF:
		return e.ExtractTextFromPDF(data)
	case rag_type.MimeDOC, rag_type.MimeDOCX:
		return e.ExtractTextFromWord(data, mt)
	default:
		return e.ExtractTextFromPlain(data)
	}
}

func (e *DocumentExtractor) ExtractTextFromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		e.logger.Error("Failed to create PDF reader",
			slog.String("error", err.Error()),
			slog.Int("data_size", len(data)))
		return "", fmt.Errorf("%w: failed to create PDF reader: %v", rag_type.ErrExtraction, err)
	}

	totalPage := reader.NumPage()
	e.logger.Debug("Starting PDF text extraction",
		slog.Int("total_pages", totalPage))

	var fullText strings.Builder
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			e.logger.Warn("Null page encountered",
				slog.Int("page_number", pageIndex))
			continue
		}

		// Scanned pages carry no text layer; they contribute nothing.
		text, err := pageText(page)
		if err != nil {
			e.logger.Warn("No text extracted from page",
				slog.Int("page_number", pageIndex),
				slog.String("error", err.Error()))
			continue
		}

		e.logger.Debug("Extracted text from page",
			slog.Int("page_number", pageIndex),
			slog.Int("text_length", len(text)))

		fullText.WriteString(text)
	}

	e.logger.Info("Extracted text from PDF",
		slog.Int("total_pages", totalPage),
		slog.Int("total_text_length", fullText.Len()))

	return fullText.String(), nil
}

// pageText guards against panics inside the PDF content stream parser, which
// are raised for malformed operators rather than returned.
func pageText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page content: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}

func (e *DocumentExtractor) ExtractTextFromWord(data []byte, mimeType string) (string, error) {
	e.logger.Debug("Starting Word document text extraction",
		slog.String("mime_type", mimeType),
		slog.Int("data_size", len(data)))

	result, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		e.logger.Error("Failed to convert Word document",
			slog.String("error", err.Error()),
			slog.Int("data_size", len(data)))
		return "", fmt.Errorf("%w: failed to convert Word document: %v", rag_type.ErrExtraction, err)
	}

	e.logger.Info("Extracted text from Word document",
		slog.Int("text_length", len(result.Body)))

	return result.Body, nil
}

// legacyWordConverter is the external program docconv runs for .doc files.
const legacyWordConverter = "wvText"

// CheckLegacyWordSupport reports an error when the .doc converter is not on
// PATH. DOCX, PDF and text extraction do not depend on it.
func CheckLegacyWordSupport() error {
	if _, err := exec.LookPath(legacyWordConverter); err != nil {
		return fmt.Errorf("%s not found, install the wv package: %w", legacyWordConverter, err)
	}
	return nil
}

func (e *DocumentExtractor) ExtractTextFromPlain(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", rag_type.ErrExtraction)
	}
	return string(data), nil
}

// readAll copies r in bounded chunks, checking for cancellation between reads.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// normalizeMediaType drops parameters such as charset.
func normalizeMediaType(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	return mt
}

// CategoryFor returns the stored category for an upload MIME type.
func CategoryFor(mediaType string) (rag_type.Category, bool) {
	c, ok := rag_type.AllowedContentTypes[normalizeMediaType(mediaType)]
	return c, ok
}
