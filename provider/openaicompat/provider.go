package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nevindra/dossier"
)

// Provider implements dossier.Provider for any OpenAI-compatible API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
	logger  *slog.Logger
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:8080/v1"). The /chat/completions path is appended
// automatically. model is used when a request does not name one.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		name:    "openai",
		logger:  nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Model returns the default model.
func (p *Provider) Model() string { return p.model }

// mergeGenParams returns the provider's base options followed by the
// per-request overrides.
func (p *Provider) mergeGenParams(params *dossier.GenerationParams) []Option {
	extra := paramOptions(params)
	if len(extra) == 0 {
		return p.opts
	}
	opts := make([]Option, 0, len(p.opts)+len(extra))
	opts = append(opts, p.opts...)
	return append(opts, extra...)
}

// Chat sends a non-streaming chat request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req dossier.ChatRequest) (dossier.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	body := BuildBody(req.Messages, model, p.mergeGenParams(req.GenerationParams)...)

	resp, err := p.sendHTTP(ctx, "/chat/completions", body)
	if err != nil {
		return dossier.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dossier.ChatResponse{}, httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return dossier.ChatResponse{}, &dossier.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	p.logger.Debug("chat completion", "provider", p.name, "model", model,
		"input_tokens", usageIn(chatResp.Usage), "output_tokens", usageOut(chatResp.Usage))
	return ParseResponse(chatResp)
}

// sendHTTP marshals body and POSTs it to baseURL+path.
func (p *Provider) sendHTTP(ctx context.Context, path string, body any) (*http.Response, error) {
	return post(ctx, p.client, p.name, p.baseURL+path, p.apiKey, body)
}

func post(ctx context.Context, client *http.Client, name, url, apiKey string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &dossier.ErrLLM{Provider: name, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &dossier.ErrLLM{Provider: name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &dossier.ErrLLM{Provider: name, Message: fmt.Sprintf("send request: %v", err)}
	}
	return resp, nil
}

// httpErr reads the response body into an ErrHTTP.
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &dossier.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
	}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func usageIn(u *Usage) int {
	if u == nil {
		return 0
	}
	return u.PromptTokens
}

func usageOut(u *Usage) int {
	if u == nil {
		return 0
	}
	return u.CompletionTokens
}

// Compile-time interface check.
var _ dossier.Provider = (*Provider)(nil)
