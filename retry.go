package dossier

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// Retry defaults.
const (
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = time.Second
)

type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// RetryOption configures WithRetry and WithEmbeddingRetry.
type RetryOption func(*retryConfig)

// RetryMaxAttempts sets the maximum number of attempts, including the first.
func RetryMaxAttempts(n int) RetryOption {
	return func(c *retryConfig) { c.maxAttempts = n }
}

// RetryBaseDelay sets the delay before the second attempt. Each further
// delay doubles, plus up to 50% jitter.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.baseDelay = d }
}

// RetryLogger sets the logger for retry events.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(c *retryConfig) { c.logger = l }
}

func newRetryConfig(opts []RetryOption) retryConfig {
	c := retryConfig{maxAttempts: DefaultRetryAttempts, baseDelay: DefaultRetryBaseDelay}
	for _, opt := range opts {
		opt(&c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

type retryProvider struct {
	inner Provider
	cfg   retryConfig
}

// WithRetry wraps p so that transient HTTP failures (429, 502, 503) are
// retried with exponential backoff. A Retry-After hint from the server is
// honored as a lower bound on the delay.
//
//	llm := dossier.WithRetry(openaicompat.NewProvider(key, model, baseURL))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	return &retryProvider{inner: p, cfg: newRetryConfig(opts)}
}

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return retryCall(ctx, r.cfg, r.inner.Name(), func() (ChatResponse, error) {
		return r.inner.Chat(ctx, req)
	})
}

type retryEmbedding struct {
	inner EmbeddingProvider
	cfg   retryConfig
}

// WithEmbeddingRetry is WithRetry for embedding providers.
func WithEmbeddingRetry(p EmbeddingProvider, opts ...RetryOption) EmbeddingProvider {
	return &retryEmbedding{inner: p, cfg: newRetryConfig(opts)}
}

func (r *retryEmbedding) Name() string    { return r.inner.Name() }
func (r *retryEmbedding) Dimensions() int { return r.inner.Dimensions() }

func (r *retryEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return retryCall(ctx, r.cfg, r.inner.Name(), func() ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

func retryCall[T any](ctx context.Context, cfg retryConfig, name string, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := range cfg.maxAttempts {
		out, err := fn()
		if err == nil || !isTransient(err) {
			return out, err
		}
		last = err
		if i == cfg.maxAttempts-1 {
			break
		}
		delay := retryDelay(cfg.baseDelay, i, err)
		cfg.logger.Warn("retrying transient error", "provider", name,
			"status", statusOf(err), "attempt", i+1, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	cfg.logger.Error("retry attempts exhausted", "provider", name,
		"attempts", cfg.maxAttempts, "error", last)
	return zero, last
}

func isTransient(err error) bool {
	switch statusOf(err) {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryDelay is max(base*2^i + jitter, Retry-After).
func retryDelay(base time.Duration, i int, err error) time.Duration {
	d := base << i
	if d > 0 {
		d += rand.N(d/2 + 1)
	}
	var e *ErrHTTP
	if errors.As(err, &e) && e.RetryAfter > d {
		return e.RetryAfter
	}
	return d
}

// nopLogger is a logger that discards all output. Used when no logger is set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

var (
	_ Provider          = (*retryProvider)(nil)
	_ EmbeddingProvider = (*retryEmbedding)(nil)
)
