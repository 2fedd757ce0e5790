package dossier

import (
	"fmt"
	"time"
)

// ErrLLM reports a provider-side failure that is not an HTTP status error
// (marshalling, transport, malformed response).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-200 response from a provider endpoint.
type ErrHTTP struct {
	Status int
	Body   string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
