package dossier

import "context"

// Provider abstracts the LLM chat backend.
type Provider interface {
	// Chat sends a request and returns the complete assistant message.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "llamacpp").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size (0 if unknown).
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// EmbedOne embeds a single text and returns its vector.
func EmbedOne(ctx context.Context, e EmbeddingProvider, text string) ([]float32, error) {
	embs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embs) == 0 || len(embs[0]) == 0 {
		return nil, &ErrLLM{Provider: e.Name(), Message: "empty embedding"}
	}
	return embs[0], nil
}
