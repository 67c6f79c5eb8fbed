package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dkrasnove/kbase/internal/services"
)

type ChatHandler struct {
	chat   *services.ChatService
	logger *slog.Logger
}

func NewChatHandler(chat *services.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger.With("component", "chat_handler")}
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.chat.Chat(r.Context(), req.Message)
	if err != nil {
		if errors.Is(err, services.ErrChatNotConfigured) {
			respondError(w, http.StatusPreconditionFailed, err.Error())
			return
		}
		h.logger.Error("chat failed", "error", err)
		respondError(w, http.StatusBadGateway, "chat provider error")
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{Reply: reply})
}
