package dossier

import (
	"context"
	"errors"
	"testing"
)

func TestErrLLMError(t *testing.T) {
	tests := []struct {
		provider string
		message  string
		want     string
	}{
		{"llamacpp", "decode response: EOF", "llamacpp: decode response: EOF"},
		{"openai", "context length exceeded", "openai: context length exceeded"},
	}
	for _, tt := range tests {
		e := &ErrLLM{Provider: tt.provider, Message: tt.message}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrLLM{%q, %q}.Error() = %q, want %q", tt.provider, tt.message, got, tt.want)
		}
	}
}

func TestErrHTTPError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{429, "too many requests", "http 429: too many requests"},
		{500, "internal server error", "http 500: internal server error"},
	}
	for _, tt := range tests {
		e := &ErrHTTP{Status: tt.status, Body: tt.body}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrHTTP{%d, %q}.Error() = %q, want %q", tt.status, tt.body, got, tt.want)
		}
	}
}

type stubEmbedding struct {
	vecs [][]float32
	err  error
}

func (s stubEmbedding) Embed(_ context.Context, _ []string) ([][]float32, error) { return s.vecs, s.err }
func (s stubEmbedding) Dimensions() int                                          { return 0 }
func (s stubEmbedding) Name() string                                             { return "stub" }

func TestEmbedOne(t *testing.T) {
	vec, err := EmbedOne(context.Background(), stubEmbedding{vecs: [][]float32{{1, 2}}}, "x")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("len = %d, want 2", len(vec))
	}

	_, err = EmbedOne(context.Background(), stubEmbedding{}, "x")
	var llmErr *ErrLLM
	if !errors.As(err, &llmErr) {
		t.Errorf("empty result: err = %v, want *ErrLLM", err)
	}

	boom := errors.New("boom")
	if _, err := EmbedOne(context.Background(), stubEmbedding{err: boom}, "x"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestGenerationParamsWithMaxTokens(t *testing.T) {
	p := Temperature(0.2).WithMaxTokens(128)
	if p.Temperature == nil || *p.Temperature != 0.2 {
		t.Errorf("temperature not preserved: %+v", p)
	}
	if p.MaxTokens == nil || *p.MaxTokens != 128 {
		t.Errorf("max tokens = %v, want 128", p.MaxTokens)
	}

	var nilParams *GenerationParams
	q := nilParams.WithMaxTokens(32)
	if q.Temperature != nil || *q.MaxTokens != 32 {
		t.Errorf("nil receiver: %+v", q)
	}
}
