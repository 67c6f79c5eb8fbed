package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dkrasnove/kbase/internal/core"
	"github.com/dkrasnove/kbase/internal/models"
)

// retrievalTopK is how many chunks are pulled into the prompt.
const retrievalTopK = 5

const defaultSystemPrompt = "You are a helpful assistant. Answer the user's questions clearly and concisely."

const contextPreamble = "Use the following context from the knowledge base to help answer the user's question. If the context is not relevant, you may ignore it."

var ErrChatNotConfigured = errors.New("no chat provider configured in settings")

// ChatService answers user messages, grounding them in the knowledge base
// when retrieval succeeds. Retrieval failures degrade to a plain chat rather
// than failing the request.
type ChatService struct {
	db        core.DbClient
	index     core.VectorIndex
	providers core.ProviderFactory
	logger    *slog.Logger
}

func NewChatService(db core.DbClient, index core.VectorIndex, providers core.ProviderFactory, logger *slog.Logger) *ChatService {
	return &ChatService{
		db:        db,
		index:     index,
		providers: providers,
		logger:    logger.With("component", "chat"),
	}
}

func (s *ChatService) Chat(ctx context.Context, userMessage string) (string, error) {
	settings, err := s.db.GetSettings(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	if !settings.HasChatCredential() {
		return "", ErrChatNotConfigured
	}

	prompt := defaultSystemPrompt
	if contextBlock := s.retrieveContext(ctx, settings, userMessage); contextBlock != "" {
		prompt = fmt.Sprintf("%s\n\n%s\n\n---\n%s\n---\n", prompt, contextPreamble, contextBlock)
	}

	completer, err := s.providers.Completer(ctx, settings.Provider, settings.APIKey, settings.Model)
	if err != nil {
		return "", fmt.Errorf("init chat provider: %w", err)
	}
	return completer.Complete(ctx, prompt, userMessage)
}

// retrieveContext embeds the question and pulls the closest chunks. Any
// failure is logged and swallowed; the chat still happens without context.
func (s *ChatService) retrieveContext(ctx context.Context, settings *models.Settings, query string) string {
	if !settings.HasEmbeddingCredential() {
		return ""
	}
	embedder, err := s.providers.Embedder(ctx, settings.Provider, settings.APIKey, settings.EmbeddingModel)
	if err != nil {
		s.logger.Warn("retrieval unavailable", "error", err)
		return ""
	}
	vec, err := embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed", "error", err)
		return ""
	}
	hits, err := s.index.Search(ctx, vec, retrievalTopK)
	if err != nil {
		s.logger.Warn("vector search failed", "error", err)
		return ""
	}

	var parts []string
	for _, h := range hits {
		if strings.TrimSpace(h.Content) != "" {
			parts = append(parts, h.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
