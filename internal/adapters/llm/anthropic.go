package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	// BaseURL overrides the API endpoint; used by tests.
	BaseURL    string
	HTTPClient *http.Client
}

type AnthropicClient struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicClient builds a TextGenerator on the Messages API. SDK retries
// are disabled: a failed generation is reported, never retried within a turn.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key must be set")
	}
	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaudeSonnet4_0)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

// Generate implements domain.TextGenerator.
func (a *AnthropicClient) Generate(ctx context.Context, templateID string, vars map[string]string) (string, error) {
	prompt, err := BuildPrompt(templateID, vars)
	if err != nil {
		return "", err
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.cfg.Model),
		MaxTokens:   int64(a.cfg.MaxTokens),
		Temperature: anthropic.Float(float64(a.cfg.Temperature)),
		System:      []anthropic.TextBlockParam{{Text: prompt.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic returned empty text")
	}
	return text.String(), nil
}
