package genai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderError_Transient(t *testing.T) {
	err := &ProviderError{
		Provider:  "primary",
		Model:     "m1",
		Err:       errors.New("429 too many requests"),
		Retryable: true,
	}

	assert.True(t, err.Transient())
	assert.True(t, IsTransient(err))
	assert.True(t, IsTransient(fmt.Errorf("route: %w", err)))
}

func TestIsTransient_PlainError(t *testing.T) {
	assert.False(t, IsTransient(errors.New("boom")))
	assert.False(t, IsTransient(nil))
}

func TestClassifyTransient(t *testing.T) {
	assert.True(t, classifyTransient(errors.New("HTTP 503 service unavailable")))
	assert.True(t, classifyTransient(errors.New("rate limit exceeded")))
	assert.True(t, classifyTransient(context.DeadlineExceeded))
	assert.False(t, classifyTransient(errors.New("401 unauthorized")))
	assert.False(t, classifyTransient(errors.New("invalid request body")))
}

func TestTokenCount(t *testing.T) {
	info := map[string]any{"PromptTokens": 120, "CompletionTokens": float64(45)}
	assert.Equal(t, 120, tokenCount(info, "PromptTokens", "InputTokens"))
	assert.Equal(t, 45, tokenCount(info, "CompletionTokens", "OutputTokens"))
	assert.Equal(t, 0, tokenCount(info, "Missing"))
}

func TestApproximateTokens(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "12345678"},
		{Role: RoleUser, Content: "12345678"},
	}
	assert.Equal(t, 4, approximateTokens(messages))
}
