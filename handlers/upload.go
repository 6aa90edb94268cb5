package handlers

import (
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/serisow/docstore/rag_type"
	"github.com/serisow/docstore/services/rag_service"
)

// maxMemory is the part of a multipart upload kept in memory; the rest spills
// to temporary files.
const maxMemory = 32 << 20

type Ingester interface {
	Ingest(ctx context.Context, accountID int64, files []rag_service.UploadFile) (*rag_type.IngestResult, error)
}

type UploadHandler struct {
	ingester Ingester
	accounts AccountReader
	auth     Authenticator
	logger   *slog.Logger
}

func NewUploadHandler(ingester Ingester, accounts AccountReader, auth Authenticator, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		ingester: ingester,
		accounts: accounts,
		auth:     auth,
		logger:   logger,
	}
}

func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "account_id")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tokens, err := authorizeAccount(r, h.auth, h.accounts, accountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeJSONError(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSONError(w, "No files provided", http.StatusBadRequest)
		return
	}

	files, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		writeJSONError(w, "Failed to read uploaded file", http.StatusBadRequest)
		return
	}

	h.logger.Info("Received file upload request",
		slog.Int64("account_id", accountID),
		slog.Int("files", len(files)))

	result, err := h.ingester.Ingest(r.Context(), accountID, files)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{IngestResult: result, Tokens: *tokens})
}

func openUploads(headers []*multipart.FileHeader) ([]rag_service.UploadFile, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	files := make([]rag_service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)
		files = append(files, rag_service.UploadFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Content:     f,
		})
	}
	return files, closeAll, nil
}
