// Package genai abstracts prompt-completion execution against named
// generation providers. Callers hand it a provider, model, and message
// list; it returns text plus token counts. Provider faults carry a
// transient-vs-permanent distinction the router's retry policy relies on.
package genai

import (
	"context"
	"errors"
	"fmt"
)

// Message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one turn of a prompt conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call.
type Request struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Completion is the raw provider response.
type Completion struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Client executes completion requests.
type Client interface {
	// Complete runs one prompt-completion request. Failures are
	// *ProviderError values; check Transient() before retrying.
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// ErrUnknownProvider indicates a request named an unregistered provider.
var ErrUnknownProvider = errors.New("unknown provider")

// ProviderError wraps a provider fault with retry classification.
type ProviderError struct {
	Provider  string
	Model     string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (model %s): %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether the fault is worth retrying on the same
// provider (rate limits, timeouts, 5xx), as opposed to a permanent
// fault (auth, bad request) that needs provider fallback.
func (e *ProviderError) Transient() bool {
	return e.Retryable
}

// IsTransient reports whether err is a retryable provider fault.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}
