package classify

import (
	"context"
	"fmt"

	"github.com/dvloznov/txn-tidy/internal/config"
	"github.com/dvloznov/txn-tidy/internal/logger"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when the config leaves the model blank.
const DefaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the part of genai.Models the classifier needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini classifies batches with the Gemini API in JSON mode.
type Gemini struct {
	models      contentGenerator
	model       string
	temperature float32
}

// NewGemini creates a Gemini API client. An empty API key lets the SDK pick
// up GEMINI_API_KEY or GOOGLE_API_KEY itself.
func NewGemini(ctx context.Context, cfg config.ClassifierConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}
	return newGeminiWithModels(client.Models, cfg), nil
}

func newGeminiWithModels(models contentGenerator, cfg config.ClassifierConfig) *Gemini {
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{models: models, model: model, temperature: cfg.Temperature}
}

// Name identifies the provider and model in logs and audit records.
func (g *Gemini) Name() string {
	return "gemini/" + g.model
}

// Classify sends one batch with a JSON response MIME type and parses the reply.
func (g *Gemini) Classify(ctx context.Context, req Request) (*Response, error) {
	log := logger.FromContext(ctx)

	payload, err := MarshalItems(req.Items)
	if err != nil {
		return nil, fmt.Errorf("Gemini.Classify: %w", err)
	}

	contents := []*genai.Content{genai.NewContentFromText(payload, genai.RoleUser)}
	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemInstructions, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](g.temperature),
	}

	log.Debug().Str("model", g.model).Int("items", len(req.Items)).Msg("Calling Gemini")
	resp, err := g.models.GenerateContent(ctx, g.model, contents, genConfig)
	if err != nil {
		return nil, fmt.Errorf("Gemini.Classify: %w: generate content: %w", ErrOracle, err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("Gemini.Classify: %w: empty response from model", ErrOracle)
	}

	parsed, err := ParseResponse(rawText)
	if err != nil {
		return nil, fmt.Errorf("Gemini.Classify: %w", err)
	}
	return parsed, nil
}
