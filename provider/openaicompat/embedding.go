package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nevindra/dossier"
)

const defaultBatchSize = 64

// Embedding implements dossier.EmbeddingProvider against POST {baseURL}/embeddings.
type Embedding struct {
	apiKey    string
	model     string
	baseURL   string
	dims      int
	batchSize int
	client    *http.Client
	name      string
}

// NewEmbedding creates an OpenAI-compatible embedding provider. dims is
// informational (0 if unknown); the server decides the vector size.
func NewEmbedding(apiKey, model, baseURL string, dims int, opts ...EmbeddingOption) *Embedding {
	e := &Embedding{
		apiKey:    apiKey,
		model:     model,
		baseURL:   strings.TrimRight(baseURL, "/"),
		dims:      dims,
		batchSize: defaultBatchSize,
		client:    &http.Client{},
		name:      "openai",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Embedding) Name() string    { return e.name }
func (e *Embedding) Dimensions() int { return e.dims }

// Embed returns one vector per text, in input order. Large inputs are split
// into batches of at most the configured batch size.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedding) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := post(ctx, e.client, e.name, e.baseURL+"/embeddings", e.apiKey,
		EmbeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp)
	}

	var er EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, &dossier.ErrLLM{Provider: e.name, Message: fmt.Sprintf("decode embeddings: %v", err)}
	}
	vecs, err := ParseEmbeddings(er, len(texts))
	if err != nil {
		return nil, &dossier.ErrLLM{Provider: e.name, Message: err.Error()}
	}
	return vecs, nil
}

var _ dossier.EmbeddingProvider = (*Embedding)(nil)
