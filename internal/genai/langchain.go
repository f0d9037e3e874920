package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/briefd/internal/config"
)

// LangchainClient dispatches completion requests to langchaingo-backed
// provider models built once at construction.
type LangchainClient struct {
	models map[string]llms.Model
	logger *zap.Logger
}

// NewLangchainClient builds one llms.Model per registered provider.
func NewLangchainClient(providers map[string]config.ProviderConfig, logger *zap.Logger) (*LangchainClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	models := make(map[string]llms.Model, len(providers))
	for name, pc := range providers {
		model, err := buildModel(pc)
		if err != nil {
			return nil, fmt.Errorf("building provider %q: %w", name, err)
		}
		models[name] = model
	}

	return &LangchainClient{models: models, logger: logger}, nil
}

func buildModel(pc config.ProviderConfig) (llms.Model, error) {
	switch pc.Type {
	case "openai":
		opts := []openai.Option{}
		token := pc.APIKey.Value()
		if token == "" {
			// langchaingo requires a token; local OpenAI-compatible
			// servers ignore it.
			token = "unused"
		}
		opts = append(opts, openai.WithToken(token))
		if pc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pc.BaseURL))
		}
		return openai.New(opts...)
	case "anthropic":
		return anthropic.New(anthropic.WithToken(pc.APIKey.Value()))
	default:
		return nil, fmt.Errorf("unsupported provider type %q", pc.Type)
	}
}

// Complete implements Client.
func (c *LangchainClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	model, ok := c.models[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}

	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := schema.ChatMessageTypeHuman
		if m.Role == RoleSystem {
			role = schema.ChatMessageTypeSystem
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	opts := []llms.CallOption{
		llms.WithModel(req.Model),
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, &ProviderError{
			Provider:  req.Provider,
			Model:     req.Model,
			Err:       err,
			Retryable: classifyTransient(err),
		}
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			Provider:  req.Provider,
			Model:     req.Model,
			Err:       errors.New("empty response"),
			Retryable: true,
		}
	}

	choice := resp.Choices[0]
	completion := &Completion{
		Text:         choice.Content,
		InputTokens:  tokenCount(choice.GenerationInfo, "PromptTokens", "InputTokens"),
		OutputTokens: tokenCount(choice.GenerationInfo, "CompletionTokens", "OutputTokens"),
	}

	// Providers that omit usage info still need token accounting for
	// the budget ledger; approximate at 4 chars per token.
	if completion.InputTokens == 0 {
		completion.InputTokens = approximateTokens(req.Messages)
	}
	if completion.OutputTokens == 0 {
		completion.OutputTokens = len(choice.Content) / 4
	}

	return completion, nil
}

// tokenCount extracts the first matching integer usage value.
func tokenCount(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

func approximateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return chars / 4
}

// transientMarkers identify provider faults worth retrying in place.
var transientMarkers = []string{
	"429",
	"rate limit",
	"overloaded",
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"500",
	"502",
	"503",
	"504",
	"temporarily unavailable",
}

func classifyTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
