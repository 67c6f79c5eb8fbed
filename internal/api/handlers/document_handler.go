package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dkrasnove/kbase/internal/api/middlewares"
	"github.com/dkrasnove/kbase/internal/core"
	"github.com/dkrasnove/kbase/internal/core/extract"
	"github.com/dkrasnove/kbase/internal/models"
	"github.com/dkrasnove/kbase/internal/services"
)

const maxUploadBytes = 50 << 20 // 50 MB

type DocumentHandler struct {
	dbclient core.DbClient
	store    core.ObjectStore
	ingestor *services.Ingestor
	logger   *slog.Logger
}

func NewDocumentHandler(dbclient core.DbClient, store core.ObjectStore, ingestor *services.Ingestor, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		dbclient: dbclient,
		store:    store,
		ingestor: ingestor,
		logger:   logger.With("component", "document_handler"),
	}
}

// Upload stores the file, records the document, and kicks off background
// ingestion. The response returns before processing finishes.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middlewares.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	// Reject up front when no embedding credential is configured; otherwise
	// the file would be stored only for background ingestion to fail.
	settings, err := h.dbclient.GetSettings(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	if !settings.HasEmbeddingCredential() {
		respondError(w, http.StatusPreconditionFailed, services.ErrEmbeddingNotConfigured.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !extract.IsSupported(contentType, header.Filename) {
		respondError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported file type: %s", header.Filename))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read file")
		return
	}

	docID := uuid.NewString()
	cleanName := filepath.Base(header.Filename)
	storageKey := fmt.Sprintf("%s/%s/%s", userID, docID, cleanName)

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if err := h.store.Upload(uploadCtx, storageKey, data, contentType); err != nil {
		h.logger.Error("object upload failed", "key", storageKey, "error", err)
		respondError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	doc := &models.Document{
		ID:          docID,
		UserID:      userID,
		FileName:    cleanName,
		StorageKey:  storageKey,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Status:      models.DocumentStatusUploading,
		CreatedAt:   time.Now(),
	}
	if err := h.dbclient.CreateDocument(uploadCtx, doc); err != nil {
		h.logger.Error("document insert failed", "document_id", docID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store document metadata")
		return
	}

	h.ingestor.StartDocumentIngestion(doc.ID)

	respondJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middlewares.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	documents, err := h.dbclient.ListDocumentsByUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if documents == nil {
		documents = []models.Document{}
	}
	respondJSON(w, http.StatusOK, documents)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// Rescan re-ingests a ready document in the background.
func (h *DocumentHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	if doc.Status != models.DocumentStatusReady {
		respondError(w, http.StatusConflict, fmt.Sprintf("document is %s, only ready documents can be rescanned", doc.Status))
		return
	}

	h.ingestor.StartRescan(doc.ID)
	respondJSON(w, http.StatusAccepted, map[string]string{"id": doc.ID, "status": models.DocumentStatusProcessing})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}

	if err := h.ingestor.DeleteDocument(r.Context(), doc.ID); err != nil {
		h.logger.Error("document delete failed", "document_id", doc.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedDocument loads the document in the URL and checks it belongs to the
// caller. Foreign documents look like missing ones.
func (h *DocumentHandler) ownedDocument(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	userID, ok := middlewares.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	docID := chi.URLParam(r, "id")

	doc, err := h.dbclient.GetDocumentByID(r.Context(), docID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if doc == nil || doc.UserID != userID {
		respondError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return doc, true
}
