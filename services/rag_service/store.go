package rag_service

import (
	"context"

	"github.com/serisow/docstore/rag_type"
)

// VectorIndex is a scoped nearest-neighbour search over passage embeddings.
// Matches are ordered by ascending L2 distance, all within maxDistance, at
// most limit of them.
type VectorIndex interface {
	SearchPassages(ctx context.Context, accountID int64, query []float32, maxDistance float64, limit int) ([]rag_type.PassageMatch, error)
}

type DocumentStore interface {
	GetAccount(ctx context.Context, accountID int64) (*rag_type.Account, error)
	DocumentExists(ctx context.Context, accountID int64, fileName string) (bool, error)
	// CreateDocument inserts the document and its passages in one transaction,
	// assigns their ids and adds the document size to the account usage.
	CreateDocument(ctx context.Context, doc *rag_type.Document, passages []rag_type.Passage) error
	GetDocument(ctx context.Context, documentID int64) (*rag_type.Document, error)
	GetDocuments(ctx context.Context, documentIDs []int64) (map[int64]rag_type.Document, error)
	ListDocuments(ctx context.Context, accountID int64) ([]rag_type.Document, error)
	// DeleteDocument removes the document and its passages and subtracts the
	// document size from the account usage.
	DeleteDocument(ctx context.Context, documentID int64) error
	DeleteAllDocuments(ctx context.Context, accountID int64) (int, error)
	// PassageTexts pages through a document's passages in insertion order,
	// returning those with an id greater than afterID.
	PassageTexts(ctx context.Context, documentID, afterID int64, limit int) ([]rag_type.Passage, error)
}

type Store interface {
	DocumentStore
	VectorIndex
	Ping(ctx context.Context) error
	Close() error
}
