package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/serisow/docstore/rag_type"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, rag_type.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, rag_type.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rag_type.ErrDuplicateFileName),
		errors.Is(err, rag_type.ErrUnsupportedFileType),
		errors.Is(err, rag_type.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, rag_type.ErrQuotaExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, rag_type.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag_type.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, rag_type.ErrEmbedderClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status; internal errors are logged and hidden.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", slog.String("error", err.Error()))
		message = "Internal server error"
	}
	writeJSONError(w, message, status)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
