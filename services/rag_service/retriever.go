package rag_service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/serisow/docstore/rag_type"
)

const (
	DefaultMaxDistance         = 0.8
	DefaultTopK                = 2
	DefaultQuerySplitThreshold = 1000
)

type Retriever struct {
	index       VectorIndex
	store       DocumentStore
	embedder    Embedder
	splitter    *RecursiveSplitter
	logger      *slog.Logger
	maxDistance float64
	topK        int
}

func NewRetriever(store DocumentStore, index VectorIndex, embedder Embedder, logger *slog.Logger) *Retriever {
	return &Retriever{
		index:       index,
		store:       store,
		embedder:    embedder,
		splitter:    NewRecursiveSplitter(DefaultChunkSize, DefaultChunkOverlap),
		logger:      logger,
		maxDistance: DefaultMaxDistance,
		topK:        DefaultTopK,
	}
}

// Query finds the passages of the account closest to text and groups them by
// document. A query longer than DefaultQuerySplitThreshold characters is split
// and each fragment searched on its own.
func (r *Retriever) Query(ctx context.Context, accountID int64, text string) (*rag_type.QueryResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", rag_type.ErrInvalidQuery)
	}
	if _, err := r.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	fragments := []string{text}
	if runeLen(text) > DefaultQuerySplitThreshold {
		fragments = r.splitter.Split(text)
	}

	vectors, err := r.embedder.Embed(ctx, fragments)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	perVector := make([][]rag_type.PassageMatch, 0, len(vectors))
	for _, vec := range vectors {
		matches, err := r.index.SearchPassages(ctx, accountID, vec, r.maxDistance, r.topK)
		if err != nil {
			return nil, fmt.Errorf("failed to search passages: %w", err)
		}
		perVector = append(perVector, matches)
	}

	order, snippets := AggregateMatches(perVector)
	r.logger.Debug("Similarity query completed",
		slog.Int64("account_id", accountID),
		slog.Int("fragments", len(fragments)),
		slog.Int("documents", len(order)))

	if len(order) == 0 {
		return &rag_type.QueryResult{Found: false}, nil
	}

	docs, err := r.store.GetDocuments(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to load matched documents: %w", err)
	}
	result := &rag_type.QueryResult{
		Found:    true,
		Snippets: snippets,
	}
	for _, id := range order {
		if d, ok := docs[id]; ok {
			result.Documents = append(result.Documents, d)
		}
	}
	return result, nil
}

// AggregateMatches merges the matches of several query vectors per document.
// Documents are returned in first-seen order; every match contributes its text
// to the snippets of its document.
func AggregateMatches(perVector [][]rag_type.PassageMatch) ([]int64, map[int64][]string) {
	var order []int64
	snippets := make(map[int64][]string)
	for _, matches := range perVector {
		for _, m := range matches {
			if _, seen := snippets[m.DocumentID]; !seen {
				order = append(order, m.DocumentID)
			}
			snippets[m.DocumentID] = append(snippets[m.DocumentID], m.Content)
		}
	}
	return order, snippets
}
