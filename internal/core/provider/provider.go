package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/dkrasnove/kbase/internal/core"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

var (
	ErrUnknownProvider        = errors.New("unknown provider")
	ErrMissingAPIKey          = errors.New("provider API key is not configured")
	ErrEmbeddingsNotSupported = errors.New("provider does not support embeddings")
)

// Factory builds langchaingo-backed clients for the configured provider.
// Anthropic and Cohere expose no embedding endpoint here, so they can serve
// chat but not ingestion.
type Factory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger}
}

var _ core.ProviderFactory = (*Factory)(nil)

func (f *Factory) Embedder(ctx context.Context, providerName, apiKey, model string) (core.Embedder, error) {
	var client embeddings.EmbedderClient
	var err error
	switch providerName {
	case "openai":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client, err = openai.New(openai.WithToken(apiKey), openai.WithEmbeddingModel(model))
	case "groq":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client, err = openai.New(openai.WithToken(apiKey), openai.WithBaseURL(groqBaseURL), openai.WithEmbeddingModel(model))
	case "gemini":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client, err = googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultEmbeddingModel(model))
	case "mistral":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client, err = mistral.New(mistral.WithAPIKey(apiKey), mistral.WithModel(model))
	case "ollama":
		client, err = ollama.New(ollama.WithModel(model))
	case "anthropic", "cohere":
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingsNotSupported, providerName)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s client: %w", providerName, err)
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("init %s embedder: %w", providerName, err)
	}
	return &langchainEmbedder{embedder: emb}, nil
}

func (f *Factory) Completer(ctx context.Context, providerName, apiKey, model string) (core.Completer, error) {
	var client llms.Model
	var err error
	switch providerName {
	case "openai":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client, err = openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	case "groq":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client, err = openai.New(openai.WithToken(apiKey), openai.WithBaseURL(groqBaseURL), openai.WithModel(model))
	case "anthropic":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client, err = anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	case "gemini":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client, err = googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	case "mistral":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client, err = mistral.New(mistral.WithAPIKey(apiKey), mistral.WithModel(model))
	case "cohere":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		client, err = cohere.New(cohere.WithToken(apiKey), cohere.WithModel(model))
	case "ollama":
		client, err = ollama.New(ollama.WithModel(model))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s client: %w", providerName, err)
	}
	return &langchainCompleter{client: client}, nil
}

type langchainEmbedder struct {
	embedder embeddings.Embedder
}

func (e *langchainEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.embedder.EmbedQuery(ctx, text)
}

func (e *langchainEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embedder.EmbedDocuments(ctx, texts)
}

type langchainCompleter struct {
	client llms.Model
}

func (c *langchainCompleter) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userMessage),
	}
	resp, err := c.client.GenerateContent(ctx, content)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}
