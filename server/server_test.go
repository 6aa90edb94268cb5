package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serisow/docstore/db"
	"github.com/serisow/docstore/handlers"
	"github.com/serisow/docstore/services/rag_service"
)

type testServer struct {
	*httptest.Server
	accountID int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "docstore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	account, err := store.CreateAccount(ctx, 10)
	require.NoError(t, err)

	embedder := rag_service.NewGuardedEmbedder(rag_service.NewHashEmbedder(1024), 2)
	t.Cleanup(func() { embedder.Close() })

	r := SetupRoutes(Deps{
		Ingester: rag_service.NewProcessor(store, rag_service.NewDocumentExtractor(logger), embedder, logger, rag_service.ProcessorOptions{}),
		Searcher: rag_service.NewRetriever(store, store, embedder, logger),
		Library:  rag_service.NewLibrary(store, logger),
		Auth:     handlers.HeaderAuthenticator{},
		Ping:     store.Ping,
		Logger:   logger,
	})
	srv := httptest.NewServer(SetupNegroni(r, logger))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, accountID: account.ID}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "10")
	req.Header.Set("Authorization", "Bearer token")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) upload(t *testing.T, files map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, name))
		h.Set("Content-Type", "text/plain")
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		pw.Write([]byte(content))
	}
	require.NoError(t, w.Close())
	return s.do(t, http.MethodPost, fmt.Sprintf("/app/upload_files/%d", s.accountID), &buf, w.FormDataContentType())
}

func TestUploadQueryDeleteFlow(t *testing.T) {
	s := newTestServer(t)
	const text = "The quarterly revenue grew by twelve percent. Costs were flat."

	resp := s.upload(t, map[string]string{"revenue.txt": text})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = s.upload(t, map[string]string{"revenue.txt": text})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/app/most_relevant_files/%d", s.accountID),
		strings.NewReader(`{"query":"The quarterly revenue grew by twelve percent."}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var query handlers.QueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&query))
	assert.Equal(t, "Files found", query.Message)
	require.Len(t, query.Files, 1)
	docID := query.Files[0].ID

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/app/get_file/%d", docID), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, text+"\n", string(body))

	resp = s.do(t, http.MethodDelete, fmt.Sprintf("/app/delete_file/%d/%d", s.accountID, docID), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/app/see_files/%d", s.accountID), nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodPost, fmt.Sprintf("/app/most_relevant_files/%d", s.accountID),
		strings.NewReader(`{"query":"The quarterly revenue grew by twelve percent."}`), "application/json")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&query))
	assert.Equal(t, "No files found", query.Message)
}

func TestRequestIDIsPreserved(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, s.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/app/see_files/abc", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeDevelopmentShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- ServeDevelopment(ctx, http.NotFoundHandler(), Config{HTTPPort: "0"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()
	cancel()
	assert.NoError(t, <-errCh)
}
