package rag_service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/serisow/docstore/rag_type"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	DefaultEmbeddingModel      = "BAAI/bge-large-en-v1.5"
	DefaultEmbeddingDimensions = 1024

	embedBatchSize  = 64
	embedMaxRetries = 3
)

// Embedder maps texts to fixed-dimensionality vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

type OpenAIEmbedderConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	RequestsPerSecond float64
	RetryDelay        time.Duration
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig, logger *slog.Logger) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}

	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultEmbeddingDimensions
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    rate.NewLimiter(limit, 1),
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

func (e *OpenAIEmbedder) Name() string    { return e.model }
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += embedBatchSize {
		end := min(i+embedBatchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: batch,
		Model: openai.EmbeddingModel(e.model),
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = e.dimensions
	}

	var lastErr error
	for attempt := 1; attempt <= embedMaxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err == nil {
			return e.collect(resp, len(batch))
		}
		lastErr = err

		if !retryable(err) || attempt == embedMaxRetries {
			break
		}
		e.logger.Warn("Embedding request failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_delay", e.retryDelay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.retryDelay):
		}
	}
	return nil, fmt.Errorf("embedding request failed: %w", lastErr)
}

func (e *OpenAIEmbedder) collect(resp openai.EmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, fmt.Errorf("embedding service returned %d vectors, expected %d", len(resp.Data), want)
	}
	out := make([][]float32, want)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, fmt.Errorf("embedding service returned out of range index %d", d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(d.Embedding), e.dimensions)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}

// GuardedEmbedder is the process-wide handle on the embedding model. It caps
// the number of concurrent model invocations and refuses work once closed.
type GuardedEmbedder struct {
	inner  Embedder
	sem    *semaphore.Weighted
	closed atomic.Bool
}

func NewGuardedEmbedder(inner Embedder, maxConcurrent int) *GuardedEmbedder {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &GuardedEmbedder{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (g *GuardedEmbedder) Name() string    { return g.inner.Name() }
func (g *GuardedEmbedder) Dimensions() int { return g.inner.Dimensions() }

func (g *GuardedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.closed.Load() {
		return nil, rag_type.ErrEmbedderClosed
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	if g.closed.Load() {
		return nil, rag_type.ErrEmbedderClosed
	}
	return g.inner.Embed(ctx, texts)
}

// Close stops accepting new work. In-flight calls run to completion.
func (g *GuardedEmbedder) Close() error {
	g.closed.Store(true)
	return nil
}
