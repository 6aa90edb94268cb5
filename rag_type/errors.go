package rag_type

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrExtraction           = errors.New("text extraction failed")
	ErrDuplicateFileName    = errors.New("file already exists")
	ErrUnsupportedFileType  = errors.New("file type is not allowed")
	ErrQuotaExceeded        = errors.New("total file size exceeds limit")
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("not authorized")
	ErrInvalidQuery         = errors.New("invalid query")
	ErrEmbedderClosed       = errors.New("embedder is closed")
)

type DuplicateFileNameError struct {
	FileName string
}

func (e *DuplicateFileNameError) Error() string {
	return fmt.Sprintf("file '%s' already exists", e.FileName)
}

func (e *DuplicateFileNameError) Unwrap() error { return ErrDuplicateFileName }

type UnsupportedFileTypeError struct {
	FileName    string
	ContentType string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("file type of '%s' is not allowed (%s)", e.FileName, e.ContentType)
}

func (e *UnsupportedFileTypeError) Unwrap() error { return ErrUnsupportedFileType }

type QuotaExceededError struct {
	Requested int64
	Used      int64
	Quota     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("total file size exceeds limit: %s requested, %s used of %s",
		humanize.Bytes(uint64(e.Requested)), humanize.Bytes(uint64(e.Used)), humanize.Bytes(uint64(e.Quota)))
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }
