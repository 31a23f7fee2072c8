package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/txn-tidy/internal/config"
	"github.com/dvloznov/txn-tidy/internal/domain"
)

// ErrOracle marks a failed classification call: transport error, an error
// payload from the model, or output that is not the expected JSON.
var ErrOracle = errors.New("classification oracle failed")

// Request is one batch sent to the model.
type Request struct {
	SystemInstructions string
	Items              []domain.RequestItem
}

// Response is the decoded model output plus the raw text for auditing.
type Response struct {
	SuggestedTransactions []domain.Result
	Raw                   string
}

// Classifier proposes descriptions and categories for a batch of transactions.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// New builds the classifier selected by cfg.Provider.
func New(ctx context.Context, cfg config.ClassifierConfig) (Classifier, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		c, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		return c, nil
	case config.ProviderAnthropic:
		return NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("New: unknown provider %q", cfg.Provider)
	}
}
