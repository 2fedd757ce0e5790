package openaicompat

import (
	"fmt"

	"github.com/nevindra/dossier"
)

// ParseResponse converts an OpenAI-format ChatResponse to a dossier
// ChatResponse, taking content and usage from choices[0]. A response with no
// choices yields empty content.
func ParseResponse(resp ChatResponse) (dossier.ChatResponse, error) {
	var out dossier.ChatResponse
	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		msg := resp.Choices[0].Message
		out.Content = msg.Content
		if out.Content == "" && msg.Refusal != "" {
			out.Content = msg.Refusal
		}
	}
	if resp.Usage != nil {
		out.Usage = dossier.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// ParseEmbeddings orders the response's vectors by input index and checks
// that exactly want of them came back.
func ParseEmbeddings(resp EmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), want)
	}
	out := make([][]float32, want)
	for i, d := range resp.Data {
		idx := d.Index
		// Some servers omit the index; fall back to position.
		if idx == 0 && i != 0 && out[0] != nil {
			idx = i
		}
		if idx < 0 || idx >= want {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if out[idx] != nil {
			return nil, fmt.Errorf("duplicate embedding index %d", idx)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", idx)
		}
		out[idx] = d.Embedding
	}
	return out, nil
}
