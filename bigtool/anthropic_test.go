package bigtool

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoiceflow/invoiceflow/core"
)

type fakeMessages struct {
	lastParams sdk.MessageNewParams
	reply      string
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.lastParams = body
	return &sdk.Message{
		Model: body.Model,
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: f.reply},
		},
		Usage: sdk.Usage{InputTokens: 12, OutputTokens: 3},
	}, nil
}

func TestAnthropicClientGenerateResponse(t *testing.T) {
	fake := &fakeMessages{reply: "tesseract"}
	client, err := NewAnthropicClientFromMessages(fake, "")
	require.NoError(t, err)

	resp, err := client.GenerateResponse(context.Background(), "pick a tool", &core.AIOptions{
		MaxTokens:    32,
		SystemPrompt: "reply with one name",
	})
	require.NoError(t, err)

	assert.Equal(t, "tesseract", resp.Content)
	assert.Equal(t, sdk.ModelClaudeHaiku4_5, fake.lastParams.Model)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, int64(32), fake.lastParams.MaxTokens)
	require.Len(t, fake.lastParams.System, 1)
	assert.Equal(t, "reply with one name", fake.lastParams.System[0].Text)
}

func TestNewAnthropicClientRequiresKey(t *testing.T) {
	_, err := NewAnthropicClient("")
	assert.Error(t, err)

	_, err = NewAnthropicClientFromMessages(nil, "")
	assert.Error(t, err)
}
