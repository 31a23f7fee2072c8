package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dvloznov/txn-tidy/internal/config"
	"github.com/dvloznov/txn-tidy/internal/logger"
)

const (
	DefaultAnthropicModel     = "claude-sonnet-4-5-20250929"
	DefaultAnthropicMaxTokens = 8192
)

type messageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Anthropic classifies batches with the Claude Messages API.
type Anthropic struct {
	messages    messageCreator
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropic requires an API key; it does not fall back to the environment.
func NewAnthropic(cfg config.ClassifierConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewAnthropic: ANTHROPIC_API_KEY not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return newAnthropicWithMessages(&client.Messages, cfg), nil
}

func newAnthropicWithMessages(messages messageCreator, cfg config.ClassifierConfig) *Anthropic {
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gemini") {
		model = DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	return &Anthropic{
		messages:    messages,
		model:       model,
		maxTokens:   maxTokens,
		temperature: float64(cfg.Temperature),
	}
}

// Name identifies the provider and model in logs and audit records.
func (a *Anthropic) Name() string {
	return "anthropic/" + a.model
}

// Classify sends one batch as a single user message and parses the JSON reply.
func (a *Anthropic) Classify(ctx context.Context, req Request) (*Response, error) {
	log := logger.FromContext(ctx)

	payload, err := MarshalItems(req.Items)
	if err != nil {
		return nil, fmt.Errorf("Anthropic.Classify: %w", err)
	}

	log.Debug().Str("model", a.model).Int("items", len(req.Items)).Msg("Calling Claude")
	message, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
		System:      []anthropic.TextBlockParam{{Text: req.SystemInstructions}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(payload)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Anthropic.Classify: %w: messages API: %w", ErrOracle, err)
	}

	var responseText strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText.WriteString(block.Text)
		}
	}
	if responseText.Len() == 0 {
		return nil, fmt.Errorf("Anthropic.Classify: %w: empty response from model", ErrOracle)
	}

	parsed, err := ParseResponse(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("Anthropic.Classify: %w", err)
	}
	return parsed, nil
}
