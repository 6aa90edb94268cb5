package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/davecgh/go-spew/spew"
	"github.com/serisow/docstore/rag_type"
)

// SearchRequest is the body of a similarity query.
type SearchRequest struct {
	Query string `json:"query"`
}

type Searcher interface {
	Query(ctx context.Context, accountID int64, text string) (*rag_type.QueryResult, error)
}

// DocumentSearchHandler returns the account's documents closest to a query.
type DocumentSearchHandler struct {
	searcher Searcher
	accounts AccountReader
	auth     Authenticator
	logger   *slog.Logger
}

func NewDocumentSearchHandler(searcher Searcher, accounts AccountReader, auth Authenticator, logger *slog.Logger) *DocumentSearchHandler {
	return &DocumentSearchHandler{
		searcher: searcher,
		accounts: accounts,
		auth:     auth,
		logger:   logger,
	}
}

func (h *DocumentSearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "account_id")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request body",
			slog.String("error", err.Error()))
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if h.logger.Enabled(r.Context(), slog.LevelDebug) {
		h.logger.Debug("Decoded search request", slog.String("request", spew.Sdump(req)))
	}

	tokens, err := authorizeAccount(r, h.auth, h.accounts, accountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.searcher.Query(r.Context(), accountID, req.Query)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if !result.Found {
		writeJSON(w, http.StatusOK, QueryResponse{Message: "No files found", Tokens: *tokens})
		return
	}

	h.logger.Info("Search completed",
		slog.Int64("account_id", accountID),
		slog.Int("documents", len(result.Documents)))

	writeJSON(w, http.StatusOK, QueryResponse{
		Message:      "Files found",
		Files:        result.Documents,
		SimilarTexts: result.Snippets,
		Tokens:       *tokens,
	})
}
