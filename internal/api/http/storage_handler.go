package http

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"

	"carrental-backend/internal/logger"
	"carrental-backend/internal/storage"

	"github.com/gorilla/mux"
)

// ObjectStore is the part of storage.LocalStore the signed link routes use.
type ObjectStore interface {
	VerifyURL(q url.Values) (string, error)
	AllowsType(contentType string) bool
	SaveFile(ctx context.Context, key string, r io.Reader) error
	ReadFile(ctx context.Context, key string) (io.ReadCloser, error)
}

// StorageHandler serves the upload and download links handed out by the
// local storage backend.
type StorageHandler struct {
	store ObjectStore
}

func NewStorageHandler(store ObjectStore) *StorageHandler {
	return &StorageHandler{store: store}
}

// HandleUpload accepts the PUT of a condition photo to a signed upload link.
func (h *StorageHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	key, err := h.store.VerifyURL(r.URL.Query())
	if err != nil {
		logger.Warn("Rejected upload link", "error", err)
		http.Error(w, "Invalid or expired link", http.StatusForbidden)
		return
	}

	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !h.store.AllowsType(contentType) {
		http.Error(w, "Invalid content type", http.StatusUnsupportedMediaType)
		return
	}

	err = h.store.SaveFile(r.Context(), key, r.Body)
	switch {
	case errors.Is(err, storage.ErrFileTooLarge):
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	case err != nil:
		logger.Error("Failed to save upload", "key", key, "error", err)
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	logger.Info("Stored upload", "key", key, "contentType", contentType)
	w.Header().Set("ETag", `"`+mux.Vars(r)["token"]+`"`)
	w.WriteHeader(http.StatusOK)
}

// HandleDownload streams an object to the holder of a signed download link.
func (h *StorageHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	key, err := h.store.VerifyURL(r.URL.Query())
	if err != nil {
		http.Error(w, "Invalid or expired link", http.StatusForbidden)
		return
	}

	file, err := h.store.ReadFile(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		logger.Error("Failed to read object", "key", key, "error", err)
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", contentTypeFor(key))
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := io.Copy(w, file); err != nil {
		logger.Warn("Download interrupted", "key", key, "error", err)
	}
}

func contentTypeFor(key string) string {
	switch filepath.Ext(key) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

// RegisterStorageRoutes registers the signed link endpoints.
func RegisterStorageRoutes(router *mux.Router, store ObjectStore) {
	handler := NewStorageHandler(store)
	router.HandleFunc("/storage/upload/{token}", handler.HandleUpload).Methods(http.MethodPut)
	router.HandleFunc("/storage/download", handler.HandleDownload).Methods(http.MethodGet)
}
