package rag_service

import (
	"context"
	"iter"
	"log/slog"

	"github.com/serisow/docstore/rag_type"
)

const textBatchSize = 50

// Library exposes the stored documents of an account.
type Library struct {
	store  DocumentStore
	logger *slog.Logger
}

func NewLibrary(store DocumentStore, logger *slog.Logger) *Library {
	return &Library{store: store, logger: logger}
}

func (l *Library) Account(ctx context.Context, accountID int64) (*rag_type.Account, error) {
	return l.store.GetAccount(ctx, accountID)
}

func (l *Library) Document(ctx context.Context, documentID int64) (*rag_type.Document, error) {
	return l.store.GetDocument(ctx, documentID)
}

// List returns the account's documents, ErrNotFound if it has none.
func (l *Library) List(ctx context.Context, accountID int64) ([]rag_type.Document, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	docs, err := l.store.ListDocuments(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, rag_type.ErrNotFound
	}
	return docs, nil
}

// Delete removes one document of the account along with its passages.
func (l *Library) Delete(ctx context.Context, accountID, documentID int64) error {
	doc, err := l.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.AccountID != accountID {
		return rag_type.ErrNotFound
	}
	if err := l.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	l.logger.Info("Deleted document",
		slog.Int64("account_id", accountID),
		slog.Int64("document_id", documentID),
		slog.Int64("file_size", doc.FileSize))
	return nil
}

// DeleteAll removes every document of the account, ErrNotFound if it has none.
func (l *Library) DeleteAll(ctx context.Context, accountID int64) (int, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return 0, err
	}
	n, err := l.store.DeleteAllDocuments(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, rag_type.ErrNotFound
	}
	l.logger.Info("Deleted all documents",
		slog.Int64("account_id", accountID),
		slog.Int("count", n))
	return n, nil
}

// DocumentText yields the passage texts of a document in insertion order,
// fetching textBatchSize rows at a time. Every range over the sequence starts
// again from the first passage.
func (l *Library) DocumentText(ctx context.Context, documentID int64) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var after int64
		for {
			batch, err := l.store.PassageTexts(ctx, documentID, after, textBatchSize)
			if err != nil {
				yield("", err)
				return
			}
			for _, p := range batch {
				if !yield(p.Content, nil) {
					return
				}
				after = p.ID
			}
			if len(batch) < textBatchSize {
				return
			}
		}
	}
}
