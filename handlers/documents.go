package handlers

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/serisow/docstore/rag_type"
)

type Library interface {
	AccountReader
	Document(ctx context.Context, documentID int64) (*rag_type.Document, error)
	List(ctx context.Context, accountID int64) ([]rag_type.Document, error)
	Delete(ctx context.Context, accountID, documentID int64) error
	DeleteAll(ctx context.Context, accountID int64) (int, error)
	DocumentText(ctx context.Context, documentID int64) iter.Seq2[string, error]
}

// DocumentsHandler serves listing, deletion and text download of an
// account's documents.
type DocumentsHandler struct {
	library Library
	auth    Authenticator
	logger  *slog.Logger
}

func NewDocumentsHandler(library Library, auth Authenticator, logger *slog.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		library: library,
		auth:    auth,
		logger:  logger,
	}
}

func (h *DocumentsHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "account_id")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tokens, err := authorizeAccount(r, h.auth, h.library, accountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	docs, err := h.library.List(r.Context(), accountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, FilesResponse{AllFiles: docs, Tokens: *tokens})
}

func (h *DocumentsHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "account_id")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	documentID, err := pathID(r, "file_id")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tokens, err := authorizeAccount(r, h.auth, h.library, accountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.library.Delete(r.Context(), accountID, documentID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "File deleted successfully", Tokens: *tokens})
}

func (h *DocumentsHandler) DeleteAllFiles(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "account_id")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tokens, err := authorizeAccount(r, h.auth, h.library, accountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	n, err := h.library.DeleteAll(r.Context(), accountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("%d files deleted successfully", n),
		Tokens:  *tokens,
	})
}

// GetFile streams the document's text as plain text, one passage per line.
func (h *DocumentsHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	documentID, err := pathID(r, "file_id")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Authenticate before the lookup so anonymous callers learn nothing about ids.
	tokens, err := h.auth.Authenticate(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	doc, err := h.library.Document(r.Context(), documentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := checkOwner(r.Context(), tokens, h.library, doc.AccountID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	for text, err := range h.library.DocumentText(r.Context(), documentID) {
		if err != nil {
			if !started {
				writeError(w, h.logger, err)
				return
			}
			h.logger.Error("Document stream interrupted",
				slog.Int64("document_id", documentID),
				slog.String("error", err.Error()))
			return
		}
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := fmt.Fprintln(w, text); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
}

// Health reports liveness of the service and its store.
type Health struct {
	Ping   func(ctx context.Context) error
	Logger *slog.Logger
}

func (h Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Ping(r.Context()); err != nil {
		h.Logger.Warn("Health check failed", slog.String("error", err.Error()))
		writeJSONError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}
