// Package provider holds the HTTP clients for the external model
// providers: embeddings and query rewriting (OpenAI-compatible), reranking
// (Cohere), and web backfill (Tavily).
//
// All clients speak plain JSON over HTTP with bounded timeouts. Failures
// are wrapped as *Error naming the provider; the caller decides whether a
// failure is fatal (worker embedding) or degradable (everything in the
// search path).
package provider

import (
	"fmt"
	"time"
)

// Error wraps a provider failure with the provider's name.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: provider, Err: err}
}

// HTTPError carries a non-200 provider response, including a Retry-After
// hint when the provider rate-limited us.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// defaultTimeout bounds each provider call.
const defaultTimeout = 30 * time.Second
