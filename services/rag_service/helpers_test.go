package rag_service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/serisow/docstore/db"
	"github.com/serisow/docstore/rag_type"
)

const testDimensions = 1024

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *db.SQLiteStore {
	t.Helper()
	store, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "docstore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestAccount(t *testing.T, store *db.SQLiteStore, ownerID int64) int64 {
	t.Helper()
	account, err := store.CreateAccount(context.Background(), ownerID)
	require.NoError(t, err)
	return account.ID
}

func textUpload(name, content string) UploadFile {
	return UploadFile{
		Name:        name,
		ContentType: rag_type.MimeTXT,
		Size:        int64(len(content)),
		Content:     strings.NewReader(content),
	}
}

// MockExtractor returns canned text, or delegates to ExtractFunc when set.
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, r io.Reader, mediaType string) (string, error)
}

func (m *MockExtractor) Extract(ctx context.Context, r io.Reader, mediaType string) (string, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, r, mediaType)
	}
	data, err := io.ReadAll(r)
	return string(data), err
}

// MockEmbedder wraps the hash embedder with optional failure injection.
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
	calls     atomic.Int32
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	return NewHashEmbedder(testDimensions).Embed(ctx, texts)
}

func (m *MockEmbedder) Dimensions() int { return testDimensions }
func (m *MockEmbedder) Name() string    { return "mock" }
