package classify

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dvloznov/txn-tidy/internal/config"
	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/dvloznov/txn-tidy/internal/logger"
	"google.golang.org/genai"
)

func quietContext() context.Context {
	return logger.WithContext(context.Background(), logger.Discard())
}

func TestParseResponse(t *testing.T) {
	want := []domain.Result{{TransactionID: "T1", UpdatedDescription: "Coffee Shop", Category: "Dining"}}

	tests := []struct {
		name    string
		raw     string
		want    []domain.Result
		wantErr bool
	}{
		{
			name: "plain JSON",
			raw:  `{"suggested_transactions":[{"transaction_id":"T1","updated_description":"Coffee Shop","category":"Dining"}]}`,
			want: want,
		},
		{
			name: "fenced JSON",
			raw:  "```json\n{\"suggested_transactions\":[{\"transaction_id\":\" T1 \",\"updated_description\":\"Coffee Shop\",\"category\":\"Dining\"}]}\n```",
			want: want,
		},
		{
			name: "surrounding prose",
			raw:  "Here you go:\n{\"suggested_transactions\":[{\"transaction_id\":\"T1\",\"updated_description\":\"Coffee Shop\",\"category\":\"Dining\"}]}\nThanks",
			want: want,
		},
		{
			name: "empty list",
			raw:  `{"suggested_transactions":[]}`,
			want: []domain.Result{},
		},
		{name: "error payload", raw: `{"error":"rate limited"}`, wantErr: true},
		{name: "missing field", raw: `{"results":[]}`, wantErr: true},
		{name: "not JSON", raw: "I cannot help with that", wantErr: true},
		{name: "empty", raw: "   ", wantErr: true},
		{name: "truncated", raw: `{"suggested_transactions":[{"transaction_id":"T1"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrOracle) {
					t.Fatalf("ParseResponse() error = %v, want ErrOracle", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResponse() error = %v", err)
			}
			if !reflect.DeepEqual(got.SuggestedTransactions, tt.want) {
				t.Errorf("ParseResponse() = %+v, want %+v", got.SuggestedTransactions, tt.want)
			}
			if got.Raw != tt.raw {
				t.Errorf("Raw = %q, want original text", got.Raw)
			}
		})
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	catalog := domain.NewCatalog([]string{"Dining", "Groceries", "Bills & Utilities"})
	prompt := BuildSystemPrompt(catalog, "To Be Categorized")

	for _, want := range []string{
		"  - Dining\n",
		"  - Groceries\n",
		"  - Bills & Utilities\n",
		`"To Be Categorized"`,
		"suggested_transactions",
		"previous_transactions",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("BuildSystemPrompt() missing %q", want)
		}
	}
}

func TestMarshalItems(t *testing.T) {
	items := []domain.RequestItem{{TransactionID: "T1", OriginalDescription: "SQ *COFFEE SHOP XX1234"}}
	out, err := MarshalItems(items)
	if err != nil {
		t.Fatalf("MarshalItems() error = %v", err)
	}

	var decoded map[string][]map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	item := decoded["transactions"][0]
	if _, ok := item["previous_transactions"].([]interface{}); !ok {
		t.Errorf("previous_transactions = %v, want an array", item["previous_transactions"])
	}
	if _, ok := item["transaction_date"]; ok {
		t.Error("transaction_date present, want omitted when empty")
	}
	if _, ok := item["platform_order_details"]; ok {
		t.Error("platform_order_details present, want omitted when empty")
	}
	if items[0].PreviousTransactions != nil {
		t.Error("MarshalItems() modified its input")
	}
}

type mockGenerator struct {
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.GenerateContentFunc(ctx, model, contents, config)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func TestGemini_Classify(t *testing.T) {
	var gotModel string
	var gotConfig *genai.GenerateContentConfig
	mock := &mockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotModel = model
			gotConfig = cfg
			return textResponse(`{"suggested_transactions":[{"transaction_id":"T1","updated_description":"Coffee Shop","category":"Dining"}]}`), nil
		},
	}

	g := newGeminiWithModels(mock, config.ClassifierConfig{Model: "gemini-test"})
	resp, err := g.Classify(quietContext(), Request{
		SystemInstructions: "rules",
		Items:              []domain.RequestItem{{TransactionID: "T1"}},
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(resp.SuggestedTransactions) != 1 || resp.SuggestedTransactions[0].Category != "Dining" {
		t.Errorf("Classify() = %+v", resp.SuggestedTransactions)
	}
	if gotModel != "gemini-test" {
		t.Errorf("model = %q, want gemini-test", gotModel)
	}
	if gotConfig.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q, want application/json", gotConfig.ResponseMIMEType)
	}
	if g.Name() != "gemini/gemini-test" {
		t.Errorf("Name() = %q", g.Name())
	}
}

func TestGemini_Classify_Errors(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		err  error
	}{
		{name: "transport", err: errors.New("503 unavailable")},
		{name: "empty text", resp: textResponse("")},
		{name: "error payload", resp: textResponse(`{"error":"quota"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockGenerator{
				GenerateContentFunc: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
					return tt.resp, tt.err
				},
			}
			g := newGeminiWithModels(mock, config.ClassifierConfig{})
			if _, err := g.Classify(quietContext(), Request{}); !errors.Is(err, ErrOracle) {
				t.Errorf("Classify() error = %v, want ErrOracle", err)
			}
		})
	}
}

type mockMessages struct {
	NewFunc func(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

func (m *mockMessages) New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	return m.NewFunc(ctx, body, opts...)
}

func TestAnthropic_Classify(t *testing.T) {
	var gotParams anthropic.MessageNewParams
	mock := &mockMessages{
		NewFunc: func(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
			gotParams = body
			return &anthropic.Message{Content: []anthropic.ContentBlockUnion{
				{Type: "text", Text: "```json\n{\"suggested_transactions\":"},
				{Type: "text", Text: "[{\"transaction_id\":\"T1\",\"updated_description\":\"Tesco\",\"category\":\"Groceries\"}]}\n```"},
			}}, nil
		},
	}

	a := newAnthropicWithMessages(mock, config.ClassifierConfig{Model: "gemini-2.5-flash"})
	resp, err := a.Classify(quietContext(), Request{SystemInstructions: "rules"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(resp.SuggestedTransactions) != 1 || resp.SuggestedTransactions[0].UpdatedDescription != "Tesco" {
		t.Errorf("Classify() = %+v", resp.SuggestedTransactions)
	}
	if gotParams.MaxTokens != DefaultAnthropicMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", gotParams.MaxTokens, DefaultAnthropicMaxTokens)
	}
	if string(gotParams.Model) != DefaultAnthropicModel {
		t.Errorf("Model = %q, want default for a gemini model name", gotParams.Model)
	}
	if len(gotParams.System) != 1 || gotParams.System[0].Text != "rules" {
		t.Errorf("System = %+v, want the system instructions", gotParams.System)
	}
}

func TestAnthropic_Classify_Error(t *testing.T) {
	mock := &mockMessages{
		NewFunc: func(context.Context, anthropic.MessageNewParams, ...option.RequestOption) (*anthropic.Message, error) {
			return nil, errors.New("overloaded")
		},
	}
	a := newAnthropicWithMessages(mock, config.ClassifierConfig{})
	if _, err := a.Classify(quietContext(), Request{}); !errors.Is(err, ErrOracle) {
		t.Errorf("Classify() error = %v, want ErrOracle", err)
	}
}

func TestNewAnthropic_RequiresKey(t *testing.T) {
	if _, err := NewAnthropic(config.ClassifierConfig{}); err == nil {
		t.Error("NewAnthropic() expected error without API key")
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), config.ClassifierConfig{Provider: "llama"}); err == nil {
		t.Error("New() expected error for unknown provider")
	}
}
