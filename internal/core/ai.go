package core

import "context"

// Embedder turns text into vectors sized for the collection.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedTexts embeds a batch in order. The caller is responsible for
	// keeping batches within the provider's request limits.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer produces a chat completion from a system prompt and a user
// message.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// ProviderFactory builds embedding and completion clients for a named
// provider using the credential stored in settings.
type ProviderFactory interface {
	Embedder(ctx context.Context, provider, apiKey, model string) (Embedder, error)
	Completer(ctx context.Context, provider, apiKey, model string) (Completer, error)
}
