package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/txn-tidy/internal/config"
	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/dvloznov/txn-tidy/internal/logger"
	"github.com/dvloznov/txn-tidy/internal/retry"
	"github.com/dvloznov/txn-tidy/internal/schema"
	"github.com/dvloznov/txn-tidy/internal/selection"
	"github.com/dvloznov/txn-tidy/internal/store"
)

// PipelineStep represents a single step in the tidy-up pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Table    *store.Table
	Schema   *schema.Schema
	Records  []domain.TransactionRecord
	Catalog  *domain.Catalog
	Selected []domain.TransactionRecord
	Stats    *RunStats
}

// Step 1: LoadTransactionsStep reads the transactions table.
type LoadTransactionsStep struct {
	Store  store.Store
	Name   string
	Policy retry.Policy
}

func (s *LoadTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	table, err := retry.Value(ctx, s.Policy, "ReadTable", func(ctx context.Context) (*store.Table, error) {
		return s.Store.ReadTable(ctx, s.Name)
	})
	if err != nil {
		return fmt.Errorf("LoadTransactionsStep: reading %q: %w", s.Name, err)
	}
	state.Table = table
	log := logger.FromContext(ctx)
	log.Info().Str("table", s.Name).Int("rows", len(table.Rows)).Msg("Loaded transactions")
	return nil
}

// Step 2: ResolveSchemaStep maps configured headers to columns and parses every row.
type ResolveSchemaStep struct {
	Columns config.Columns
}

func (s *ResolveSchemaStep) Execute(ctx context.Context, state *PipelineState) error {
	sch, err := schema.Resolve(state.Table.Header, s.Columns)
	if err != nil {
		return fmt.Errorf("ResolveSchemaStep: %w", err)
	}
	state.Schema = sch

	records := make([]domain.TransactionRecord, 0, len(state.Table.Rows))
	for i, values := range state.Table.Rows {
		records = append(records, sch.Record(i, values))
	}
	state.Records = records

	log := logger.FromContext(ctx)
	for name, col := range map[string]schema.OptionalColumn{"date": sch.Date, "amount": sch.Amount, "ai_flag": sch.AIFlag} {
		if _, ok := col.Index(); !ok {
			log.Info().Str("column", name).Str("header", col.Header).Msg("Optional column not present")
		}
	}
	return nil
}

// Step 3: LoadCatalogStep reads the allowed categories.
type LoadCatalogStep struct {
	Store  store.Store
	Name   string
	Header string
	Policy retry.Policy
}

func (s *LoadCatalogStep) Execute(ctx context.Context, state *PipelineState) error {
	table, err := retry.Value(ctx, s.Policy, "ReadTable", func(ctx context.Context) (*store.Table, error) {
		return s.Store.ReadTable(ctx, s.Name)
	})
	if err != nil {
		return fmt.Errorf("LoadCatalogStep: reading %q: %w", s.Name, err)
	}

	values, ok := table.ColumnValues(s.Header)
	if !ok {
		return fmt.Errorf("LoadCatalogStep: %w: %q in table %q", schema.ErrMissingColumn, s.Header, s.Name)
	}
	state.Catalog = domain.NewCatalog(values)

	log := logger.FromContext(ctx)
	if state.Catalog.Len() == 0 {
		log.Warn().Str("table", s.Name).Msg("Category catalog is empty; every result will use the fallback")
	}
	log.Info().Int("categories", state.Catalog.Len()).Msg("Loaded category catalog")
	return nil
}

// Step 4: SelectRowsStep picks the rows that need processing.
type SelectRowsStep struct {
	Filter *selection.Filter
}

func (s *SelectRowsStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Selected = s.Filter.Select(ctx, state.Records)
	return nil
}

// Step 5: ProcessBatchesStep classifies selected rows and writes results back.
type ProcessBatchesStep struct {
	Processor *BatchProcessor
}

func (s *ProcessBatchesStep) Execute(ctx context.Context, state *PipelineState) error {
	p := *s.Processor
	p.Schema = state.Schema
	p.Rows = state.Table.Rows

	stats := p.Run(ctx, state.Selected, state.Records, state.Catalog)
	state.Stats = &stats
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
