package rag_type

import (
	"time"
)

// Category is the stored content-type category of a document.
type Category string

const (
	CategoryPDF  Category = "PDF"
	CategoryDOCX Category = "DOCX"
	CategoryDOC  Category = "DOC"
	CategoryTXT  Category = "TXT"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
	MimeTXT  = "text/plain"
)

// AllowedContentTypes maps the accepted upload MIME types to their category.
var AllowedContentTypes = map[string]Category{
	MimePDF:  CategoryPDF,
	MimeDOCX: CategoryDOCX,
	MimeDOC:  CategoryDOC,
	MimeTXT:  CategoryTXT,
}

// Account is owned by the authentication collaborator; the document store only
// reads it and keeps StorageUsed in step with its documents.
type Account struct {
	ID          int64 `json:"id"`
	OwnerID     int64 `json:"owner_id"`
	StorageUsed int64 `json:"storage_used"`
}

type Document struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	ContentType Category  `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Passage is one embedded chunk of a document.
type Passage struct {
	ID         int64
	DocumentID int64
	AccountID  int64
	FileName   string
	Content    string
	Embedding  []float32
}

// PassageMatch is a passage returned by a distance search.
type PassageMatch struct {
	PassageID  int64
	DocumentID int64
	FileName   string
	Content    string
	Distance   float64
}

type ProcessingStats struct {
	ExtractionTime float64 `json:"extraction_time"`
	EmbeddingTime  float64 `json:"embedding_time"`
}

const (
	StatusIndexed = "indexed"
	StatusFailed  = "failed"
)

// FileResult reports the outcome of ingesting one uploaded file.
type FileResult struct {
	FileName        string          `json:"file_name"`
	DocumentID      int64           `json:"document_id,omitempty"`
	ContentType     Category        `json:"content_type,omitempty"`
	Status          string          `json:"status"`
	Passages        int             `json:"passages"`
	WordCount       int             `json:"word_count"`
	Error           string          `json:"error,omitempty"`
	ProcessingStats ProcessingStats `json:"processing_stats"`
}

type IngestResult struct {
	BatchID string       `json:"batch_id"`
	Message string       `json:"message"`
	Files   []FileResult `json:"files"`
}

// Failed reports whether any file of the batch failed.
func (r *IngestResult) Failed() bool {
	for _, f := range r.Files {
		if f.Status == StatusFailed {
			return true
		}
	}
	return false
}

// QueryResult is the per-document aggregation of a similarity query.
// Found is false when no passage satisfied the distance cutoff.
type QueryResult struct {
	Found     bool
	Documents []Document
	Snippets  map[int64][]string
}
