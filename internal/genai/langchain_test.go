package genai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// fakeModel records the message content it was invoked with.
type fakeModel struct {
	got  []llms.MessageContent
	resp *llms.ContentResponse
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.got = messages
	return f.resp, nil
}

func (f *fakeModel) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", nil
}

func TestCompleteMapsMessageRoles(t *testing.T) {
	model := &fakeModel{
		resp: &llms.ContentResponse{
			Choices: []*llms.ContentChoice{{
				Content:        "analysis text",
				GenerationInfo: map[string]any{"PromptTokens": 12, "CompletionTokens": 5},
			}},
		},
	}
	client := &LangchainClient{
		models: map[string]llms.Model{"primary": model},
		logger: zap.NewNop(),
	}

	completion, err := client.Complete(context.Background(), Request{
		Provider: "primary",
		Model:    "m1",
		Messages: []Message{
			{Role: RoleSystem, Content: "you are an analyst"},
			{Role: RoleUser, Content: "draft the thesis"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "analysis text", completion.Text)
	assert.Equal(t, 12, completion.InputTokens)
	assert.Equal(t, 5, completion.OutputTokens)

	require.Len(t, model.got, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.got[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.got[1].Role)
	require.Len(t, model.got[0].Parts, 1)
	assert.Equal(t, llms.TextContent{Text: "you are an analyst"}, model.got[0].Parts[0])
}

func TestCompleteUnknownProvider(t *testing.T) {
	client := &LangchainClient{models: map[string]llms.Model{}, logger: zap.NewNop()}

	_, err := client.Complete(context.Background(), Request{Provider: "missing"})
	require.ErrorIs(t, err, ErrUnknownProvider)
}
