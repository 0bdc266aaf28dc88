package bigtool

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/invoiceflow/invoiceflow/core"
)

// defaultFallbackModel is the model used for tool-selection fallback
// queries when the caller does not pick one.
const defaultFallbackModel = string(sdk.ModelClaudeHaiku4_5)

// MessagesClient captures the subset of the Anthropic SDK used by the
// fallback client. It is satisfied by *sdk.MessageService so tests can
// pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements core.AIClient on the Claude Messages API.
type AnthropicClient struct {
	messages MessagesClient
	model    string
}

// NewAnthropicClient builds a client from an API key.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{messages: &ac.Messages, model: defaultFallbackModel}, nil
}

// NewAnthropicClientFromMessages builds a client over an injected
// Messages implementation.
func NewAnthropicClientFromMessages(messages MessagesClient, model string) (*AnthropicClient, error) {
	if messages == nil {
		return nil, errors.New("messages client is required")
	}
	if model == "" {
		model = defaultFallbackModel
	}
	return &AnthropicClient{messages: messages, model: model}, nil
}

var _ core.AIClient = (*AnthropicClient)(nil)

// GenerateResponse issues a single-turn Messages request.
func (c *AnthropicClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	if options == nil {
		options = &core.AIOptions{}
	}
	model := c.model
	if options.Model != "" {
		model = options.Model
	}
	maxTokens := options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if options.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: options.SystemPrompt}}
	}
	if options.Temperature > 0 {
		params.Temperature = sdk.Float(float64(options.Temperature))
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &core.AIResponse{
		Content: sb.String(),
		Model:   string(msg.Model),
		Usage: core.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}
