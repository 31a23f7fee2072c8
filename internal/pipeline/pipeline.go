package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/txn-tidy/internal/classify"
	"github.com/dvloznov/txn-tidy/internal/config"
	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/dvloznov/txn-tidy/internal/matcher"
	"github.com/dvloznov/txn-tidy/internal/normalize"
	"github.com/dvloznov/txn-tidy/internal/retry"
	"github.com/dvloznov/txn-tidy/internal/selection"
	"github.com/dvloznov/txn-tidy/internal/store"
)

// Deps are the external collaborators of a run. Enricher and Audit are optional.
type Deps struct {
	Store      store.Store
	Classifier classify.Classifier
	Enricher   ContextFetcher
	Audit      AuditSink
}

func readPolicy(cfg *config.Config) retry.Policy {
	return retry.NewPolicy(cfg.Timeouts.Read, cfg.Retry)
}

// NewBatchProcessor wires a processor from configuration. Schema and Rows are
// filled in by the pipeline once the table is loaded.
func NewBatchProcessor(cfg *config.Config, deps Deps) *BatchProcessor {
	norm := normalize.New(cfg.Matching.KeyTokens)
	return &BatchProcessor{
		Store:          deps.Store,
		Table:          cfg.Tables.Transactions,
		Classifier:     deps.Classifier,
		Matcher:        matcher.New(norm, cfg.Matching.MaxCandidates, cfg.FallbackCategory),
		Enricher:       deps.Enricher,
		Audit:          deps.Audit,
		Fallback:       cfg.FallbackCategory,
		MaxBatchSize:   cfg.MaxBatchSize,
		ReuseThreshold: cfg.Matching.ReuseThreshold,
		DryRun:         cfg.DryRun,
		ClassifyPolicy: retry.NewPolicy(cfg.Timeouts.Classify, cfg.Retry),
		WritePolicy:    retry.NewPolicy(cfg.Timeouts.Write, cfg.Retry).NoRetry(),
	}
}

// NewSelectionPipeline loads, resolves, and selects without calling the model.
func NewSelectionPipeline(cfg *config.Config, st store.Store) *Pipeline {
	return NewPipeline(
		&LoadTransactionsStep{Store: st, Name: cfg.Tables.Transactions, Policy: readPolicy(cfg)},
		&ResolveSchemaStep{Columns: cfg.Columns},
		&LoadCatalogStep{Store: st, Name: cfg.Tables.Categories, Header: cfg.CategoryHeader, Policy: readPolicy(cfg)},
		&SelectRowsStep{Filter: selection.New(cfg.FallbackCategory)},
	)
}

// NewTidyPipeline creates the standard 5-step pipeline. Configuration errors
// (missing columns, missing catalog header) stop it before any write.
func NewTidyPipeline(cfg *config.Config, deps Deps) *Pipeline {
	return NewPipeline(
		&LoadTransactionsStep{Store: deps.Store, Name: cfg.Tables.Transactions, Policy: readPolicy(cfg)},
		&ResolveSchemaStep{Columns: cfg.Columns},
		&LoadCatalogStep{Store: deps.Store, Name: cfg.Tables.Categories, Header: cfg.CategoryHeader, Policy: readPolicy(cfg)},
		&SelectRowsStep{Filter: selection.New(cfg.FallbackCategory)},
		&ProcessBatchesStep{Processor: NewBatchProcessor(cfg, deps)},
	)
}

// Run executes a full tidy-up run.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*RunStats, error) {
	if deps.Store == nil || deps.Classifier == nil {
		return nil, fmt.Errorf("Run: store and classifier are required")
	}
	state := &PipelineState{}
	if err := NewTidyPipeline(cfg, deps).Execute(ctx, state); err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	return state.Stats, nil
}

// Select returns the rows a run would process, in table order.
func Select(ctx context.Context, cfg *config.Config, st store.Store) ([]domain.TransactionRecord, error) {
	state := &PipelineState{}
	if err := NewSelectionPipeline(cfg, st).Execute(ctx, state); err != nil {
		return nil, fmt.Errorf("Select: %w", err)
	}
	return state.Selected, nil
}

// LoadCatalog reads the category catalog on its own.
func LoadCatalog(ctx context.Context, cfg *config.Config, st store.Store) (*domain.Catalog, error) {
	state := &PipelineState{}
	step := &LoadCatalogStep{Store: st, Name: cfg.Tables.Categories, Header: cfg.CategoryHeader, Policy: readPolicy(cfg)}
	if err := step.Execute(ctx, state); err != nil {
		return nil, fmt.Errorf("LoadCatalog: %w", err)
	}
	return state.Catalog, nil
}
