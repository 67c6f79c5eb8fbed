package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dkrasnove/kbase/internal/config"
	"github.com/dkrasnove/kbase/internal/core"
	"github.com/dkrasnove/kbase/internal/models"
)

type SettingsHandler struct {
	dbclient core.DbClient
	cfg      *config.Config
	logger   *slog.Logger
}

func NewSettingsHandler(dbclient core.DbClient, cfg *config.Config, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{dbclient: dbclient, cfg: cfg, logger: logger.With("component", "settings_handler")}
}

type settingsResponse struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	EmbeddingModel string `json:"embedding_model"`
	HasAPIKey      bool   `json:"has_api_key"`
}

// Get returns the current provider configuration. The credential itself
// never leaves the server.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.dbclient.GetSettings(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s == nil {
		s = &models.Settings{}
	}
	respondJSON(w, http.StatusOK, settingsResponse{
		Provider:       s.Provider,
		Model:          s.Model,
		EmbeddingModel: s.EmbeddingModel,
		HasAPIKey:      s.APIKey != "",
	})
}

type updateSettingsRequest struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	EmbeddingModel string `json:"embedding_model"`
	APIKey         string `json:"api_key"`
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Provider == "" {
		respondError(w, http.StatusBadRequest, "provider is required")
		return
	}
	// Model names can be omitted when using the stock configuration.
	if req.Provider == h.cfg.DefaultProvider {
		if req.Model == "" {
			req.Model = h.cfg.DefaultModel
		}
		if req.EmbeddingModel == "" {
			req.EmbeddingModel = h.cfg.DefaultEmbeddingModel
		}
	}

	// An omitted api_key keeps the stored one; the UI never echoes it back.
	if req.APIKey == "" {
		current, err := h.dbclient.GetSettings(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if current != nil {
			req.APIKey = current.APIKey
		}
	}

	s := &models.Settings{
		Provider:       req.Provider,
		Model:          req.Model,
		EmbeddingModel: req.EmbeddingModel,
		APIKey:         req.APIKey,
	}
	if err := h.dbclient.UpdateSettings(r.Context(), s); err != nil {
		h.logger.Error("settings update failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	respondJSON(w, http.StatusOK, settingsResponse{
		Provider:       s.Provider,
		Model:          s.Model,
		EmbeddingModel: s.EmbeddingModel,
		HasAPIKey:      s.APIKey != "",
	})
}
