package rag_service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/serisow/docstore/rag_type"
)

const DefaultQuotaBytes int64 = 1_000_000_000

// UploadFile is one file of an ingestion batch. Size is the declared size used
// for quota accounting.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

type ProcessorOptions struct {
	QuotaBytes int64
	// OnFileDone, when set, is called after each file of a batch.
	OnFileDone func(rag_type.FileResult)
}

type Processor struct {
	store     DocumentStore
	extractor TextExtractor
	splitter  *RecursiveSplitter
	embedder  Embedder
	logger    *slog.Logger
	opts      ProcessorOptions
}

func NewProcessor(store DocumentStore, extractor TextExtractor, embedder Embedder, logger *slog.Logger, opts ProcessorOptions) *Processor {
	if opts.QuotaBytes <= 0 {
		opts.QuotaBytes = DefaultQuotaBytes
	}
	return &Processor{
		store:     store,
		extractor: extractor,
		splitter:  NewRecursiveSplitter(DefaultChunkSize, DefaultChunkOverlap),
		embedder:  embedder,
		logger:    logger,
		opts:      opts,
	}
}

// Ingest validates the whole batch, then processes files one at a time. A
// batch-level violation is returned as an error before anything is written;
// per-file failures are reported in the result and do not stop the batch.
func (p *Processor) Ingest(ctx context.Context, accountID int64, files []UploadFile) (*rag_type.IngestResult, error) {
	batchID := uuid.NewString()
	logger := p.logger.With(slog.String("batch_id", batchID), slog.Int64("account_id", accountID))

	account, err := p.validate(ctx, accountID, files)
	if err != nil {
		logger.Warn("Rejected upload batch", slog.String("error", err.Error()))
		return nil, err
	}
	logger.Info("Processing upload batch",
		slog.Int("files", len(files)),
		slog.Int64("storage_used", account.StorageUsed))

	result := &rag_type.IngestResult{
		BatchID: batchID,
		Files:   make([]rag_type.FileResult, 0, len(files)),
	}
	for _, f := range files {
		fr := p.processFile(ctx, accountID, f)
		if fr.Status == rag_type.StatusFailed {
			logger.Error("Error processing file",
				slog.String("filename", f.Name),
				slog.String("error", fr.Error))
		} else {
			logger.Info("Indexed file",
				slog.String("filename", f.Name),
				slog.Int64("document_id", fr.DocumentID),
				slog.Int("passages", fr.Passages))
		}
		result.Files = append(result.Files, fr)
		if p.opts.OnFileDone != nil {
			p.opts.OnFileDone(fr)
		}
	}

	if result.Failed() {
		result.Message = "Some files failed to process"
	} else {
		result.Message = "Files processed successfully"
	}
	return result, nil
}

func (p *Processor) validate(ctx context.Context, accountID int64, files []UploadFile) (*rag_type.Account, error) {
	account, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var total int64
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, ok := CategoryFor(f.ContentType); !ok {
			return nil, &rag_type.UnsupportedFileTypeError{FileName: f.Name, ContentType: f.ContentType}
		}

		if _, dup := seen[f.Name]; dup {
			return nil, &rag_type.DuplicateFileNameError{FileName: f.Name}
		}
		seen[f.Name] = struct{}{}
		exists, err := p.store.DocumentExists(ctx, accountID, f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing files: %w", err)
		}
		if exists {
			return nil, &rag_type.DuplicateFileNameError{FileName: f.Name}
		}

		total += f.Size
	}

	if total+account.StorageUsed > p.opts.QuotaBytes {
		return nil, &rag_type.QuotaExceededError{Requested: total, Used: account.StorageUsed, Quota: p.opts.QuotaBytes}
	}
	return account, nil
}

func (p *Processor) processFile(ctx context.Context, accountID int64, f UploadFile) rag_type.FileResult {
	category, _ := CategoryFor(f.ContentType)
	fr := rag_type.FileResult{
		FileName:    f.Name,
		ContentType: category,
		Status:      rag_type.StatusFailed,
	}
	fail := func(err error) rag_type.FileResult {
		fr.Error = fmt.Sprintf("Error processing file '%s': %s", f.Name, err)
		return fr
	}

	extractStart := time.Now()
	text, err := p.extractor.Extract(ctx, f.Content, f.ContentType)
	if err != nil {
		return fail(err)
	}
	fr.ProcessingStats.ExtractionTime = time.Since(extractStart).Seconds()
	fr.WordCount = len(strings.Fields(text))

	chunks := p.splitter.Split(text)

	embedStart := time.Now()
	vectors, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return fail(fmt.Errorf("failed to generate embeddings: %w", err))
	}
	if len(vectors) != len(chunks) {
		return fail(fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	fr.ProcessingStats.EmbeddingTime = time.Since(embedStart).Seconds()

	doc := &rag_type.Document{
		AccountID:   accountID,
		FileName:    f.Name,
		FileSize:    f.Size,
		ContentType: category,
	}
	passages := make([]rag_type.Passage, len(chunks))
	for i, chunk := range chunks {
		passages[i] = rag_type.Passage{
			AccountID: accountID,
			FileName:  f.Name,
			Content:   chunk,
			Embedding: vectors[i],
		}
	}

	if err := p.store.CreateDocument(ctx, doc, passages); err != nil {
		if errors.Is(err, rag_type.ErrDuplicateFileName) {
			return fail(&rag_type.DuplicateFileNameError{FileName: f.Name})
		}
		return fail(fmt.Errorf("failed to store document: %w", err))
	}

	fr.Status = rag_type.StatusIndexed
	fr.DocumentID = doc.ID
	fr.Passages = len(passages)
	return fr
}
