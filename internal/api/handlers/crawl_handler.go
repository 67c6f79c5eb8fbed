package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dkrasnove/kbase/internal/api/middlewares"
	"github.com/dkrasnove/kbase/internal/core"
	"github.com/dkrasnove/kbase/internal/models"
	"github.com/dkrasnove/kbase/internal/services"
)

type CrawlHandler struct {
	dbclient core.DbClient
	ingestor *services.Ingestor
	logger   *slog.Logger
}

func NewCrawlHandler(dbclient core.DbClient, ingestor *services.Ingestor, logger *slog.Logger) *CrawlHandler {
	return &CrawlHandler{
		dbclient: dbclient,
		ingestor: ingestor,
		logger:   logger.With("component", "crawl_handler"),
	}
}

type createCrawlRequest struct {
	URL       string `json:"url"`
	CrawlType string `json:"crawl_type"`
}

// Create registers a crawl job and starts it in the background.
func (h *CrawlHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middlewares.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req createCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		respondError(w, http.StatusBadRequest, "invalid url")
		return
	}
	if req.CrawlType != models.CrawlTypeSitemap && req.CrawlType != models.CrawlTypeFull {
		respondError(w, http.StatusBadRequest, "crawl_type must be sitemap or full")
		return
	}

	// Without an embedding credential the background job can only fail, so
	// reject before a job record exists.
	settings, err := h.dbclient.GetSettings(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	if !settings.HasEmbeddingCredential() {
		respondError(w, http.StatusPreconditionFailed, services.ErrEmbeddingNotConfigured.Error())
		return
	}

	job := &models.CrawlJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		URL:       req.URL,
		CrawlType: req.CrawlType,
		Status:    models.CrawlStatusPending,
		StartedAt: time.Now(),
	}
	if err := h.dbclient.CreateCrawlJob(r.Context(), job); err != nil {
		h.logger.Error("crawl job insert failed", "url", req.URL, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create crawl job")
		return
	}

	h.ingestor.StartCrawl(job.ID)

	respondJSON(w, http.StatusAccepted, job)
}

func (h *CrawlHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middlewares.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	jobs, err := h.dbclient.ListCrawlJobsByUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []models.CrawlJob{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (h *CrawlHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middlewares.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	job, err := h.dbclient.GetCrawlJobByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil || job.UserID != userID {
		respondError(w, http.StatusNotFound, "crawl job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}
