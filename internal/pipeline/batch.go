package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/txn-tidy/internal/classify"
	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/dvloznov/txn-tidy/internal/logger"
	"github.com/dvloznov/txn-tidy/internal/matcher"
	"github.com/dvloznov/txn-tidy/internal/normalize"
	"github.com/dvloznov/txn-tidy/internal/retry"
	"github.com/dvloznov/txn-tidy/internal/schema"
	"github.com/dvloznov/txn-tidy/internal/store"
	"github.com/google/uuid"
)

// RunStats summarizes one run. It is also the JSON run report.
type RunStats struct {
	RunID                 string    `json:"run_id"`
	StartedAt             time.Time `json:"started_at"`
	FinishedAt            time.Time `json:"finished_at"`
	Classifier            string    `json:"classifier"`
	DryRun                bool      `json:"dry_run"`
	Selected              int       `json:"selected"`
	Batches               int       `json:"batches"`
	FailedBatches         int       `json:"failed_batches"`
	Updated               int       `json:"updated"`
	MissingResults        int       `json:"missing_results"`
	UnmatchedResults      int       `json:"unmatched_results"`
	FallbackSubstitutions int       `json:"fallback_substitutions"`
	WriteFailures         int       `json:"write_failures"`
	Cancelled             bool      `json:"cancelled"`
}

// BatchProcessor sends selected rows to the classifier in bounded chunks and
// writes validated results back to the originating rows.
type BatchProcessor struct {
	Store  store.Store
	Table  string
	Schema *schema.Schema
	// Rows are the raw table rows; writes start from Rows[record.RowIndex].
	Rows [][]string

	Classifier classify.Classifier
	Matcher    *matcher.Matcher
	Enricher   ContextFetcher
	Audit      AuditSink

	Fallback       string
	MaxBatchSize   int
	ReuseThreshold float64
	DryRun         bool

	ClassifyPolicy retry.Policy
	WritePolicy    retry.Policy
}

// chunk splits rows into consecutive slices of at most size rows.
func chunk(rows []domain.TransactionRecord, size int) [][]domain.TransactionRecord {
	if size <= 0 {
		size = DefaultMaxBatchSize
	}
	var out [][]domain.TransactionRecord
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

// Run processes selected rows batch by batch. history is the full set of
// rows used for few-shot matching. Cancellation is honoured between chunks;
// a chunk whose results arrived is always written in full.
func (b *BatchProcessor) Run(ctx context.Context, selected, history []domain.TransactionRecord, catalog *domain.Catalog) RunStats {
	stats := RunStats{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Selected:  len(selected),
		DryRun:    b.DryRun,
	}
	if b.Classifier != nil {
		stats.Classifier = b.Classifier.Name()
	}

	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{"run_id": stats.RunID})
	ctx = logger.WithContext(ctx, log)

	validator := NewCategoryValidator(catalog, b.Fallback)
	systemPrompt := classify.BuildSystemPrompt(catalog, b.Fallback)

	chunks := chunk(selected, b.MaxBatchSize)
	log.Info().Int("selected", len(selected)).Int("batches", len(chunks)).Msg("Starting batch processing")

	for i, rows := range chunks {
		if ctx.Err() != nil {
			stats.Cancelled = true
			log.Warn().Int("batch", i+1).Msg("Run cancelled before batch")
			break
		}
		stats.Batches++
		if cancelled := b.processChunk(ctx, i+1, rows, history, validator, systemPrompt, &stats); cancelled {
			stats.Cancelled = true
			break
		}
	}

	stats.FinishedAt = time.Now().UTC()
	log.Info().
		Int("batches", stats.Batches).
		Int("failed_batches", stats.FailedBatches).
		Int("updated", stats.Updated).
		Int("missing_results", stats.MissingResults).
		Int("unmatched_results", stats.UnmatchedResults).
		Int("fallback_substitutions", stats.FallbackSubstitutions).
		Int("write_failures", stats.WriteFailures).
		Bool("cancelled", stats.Cancelled).
		Msg("Batch processing finished")
	return stats
}

// processChunk reports true when the chunk was abandoned because ctx ended.
func (b *BatchProcessor) processChunk(
	ctx context.Context,
	batch int,
	rows []domain.TransactionRecord,
	history []domain.TransactionRecord,
	validator *CategoryValidator,
	systemPrompt string,
	stats *RunStats,
) bool {
	log := logger.FromContext(ctx).With().Int("batch", batch).Int("size", len(rows)).Logger()

	items, candidates := b.buildItems(ctx, rows, history)

	resp, err := retry.Value(ctx, b.ClassifyPolicy, "Classify", func(ctx context.Context) (*classify.Response, error) {
		return b.Classifier.Classify(ctx, classify.Request{SystemInstructions: systemPrompt, Items: items})
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("Run cancelled during classification; batch not written")
			return true
		}
		stats.FailedBatches++
		log.Warn().Err(err).Msg("Classification failed; skipping batch")
		return false
	}

	b.recordAudit(ctx, stats, batch, len(items), resp.Raw)

	results := b.mapResults(ctx, rows, resp.SuggestedTransactions, stats)

	// Writes must not be cut short by cancellation once results are in hand.
	writeCtx := context.WithoutCancel(ctx)
	for _, row := range rows {
		res, ok := results[row.TransactionID]
		if !ok {
			stats.MissingResults++
			log.Info().Str("transaction_id", row.TransactionID).Msg("No result for transaction; row left unchanged")
			continue
		}

		category := validator.Validate(res.Category)
		if validator.IsSubstitution(res.Category) {
			stats.FallbackSubstitutions++
			log.Debug().
				Str("transaction_id", row.TransactionID).
				Str("proposed", res.Category).
				Str("fallback", category).
				Msg("Category not in catalog; using fallback")
		}

		description := strings.TrimSpace(res.UpdatedDescription)
		if description == "" {
			description = row.Description
			if description == "" {
				description = row.OriginalDescription
			}
		}
		description = snapToCandidate(description, category, candidates[row.TransactionID], b.ReuseThreshold)

		b.writeRow(writeCtx, row, schema.Update{Description: description, Category: category}, stats)
	}
	return false
}

// buildItems assembles one request item per row, keeping the matched
// candidates for reuse snapping.
func (b *BatchProcessor) buildItems(ctx context.Context, rows, history []domain.TransactionRecord) ([]domain.RequestItem, map[string][]domain.MatchCandidate) {
	items := make([]domain.RequestItem, 0, len(rows))
	candidates := make(map[string][]domain.MatchCandidate, len(rows))

	for _, row := range rows {
		key := b.Matcher.Key(row.OriginalDescription)
		matches := b.Matcher.FindMatches(key, history, row.TransactionID)
		if matches == nil {
			matches = []domain.MatchCandidate{}
		}
		candidates[row.TransactionID] = matches

		item := domain.RequestItem{
			TransactionID:        row.TransactionID,
			OriginalDescription:  row.OriginalDescription,
			PreviousTransactions: matches,
		}
		if row.HasDate() {
			item.TransactionDate = row.Date.String()
		}
		if b.Enricher != nil {
			if p, ok := normalize.MatchPlatform(row.OriginalDescription); ok {
				item.PlatformOrderDetails = b.Enricher.FetchContext(ctx, row.Amount, row.Date, p.Domain, p.DateFallback)
			}
		}
		items = append(items, item)
	}
	return items, candidates
}

// mapResults indexes results by transaction ID. The first result for an ID
// wins; later duplicates and IDs outside the chunk are ignored.
func (b *BatchProcessor) mapResults(ctx context.Context, rows []domain.TransactionRecord, suggested []domain.Result, stats *RunStats) map[string]domain.Result {
	log := logger.FromContext(ctx)

	inChunk := make(map[string]bool, len(rows))
	for _, r := range rows {
		inChunk[r.TransactionID] = true
	}

	results := make(map[string]domain.Result, len(suggested))
	for _, res := range suggested {
		if !inChunk[res.TransactionID] {
			stats.UnmatchedResults++
			log.Debug().Str("transaction_id", res.TransactionID).Msg("Result for unknown transaction ignored")
			continue
		}
		if _, dup := results[res.TransactionID]; dup {
			stats.UnmatchedResults++
			log.Debug().Str("transaction_id", res.TransactionID).Msg("Duplicate result ignored")
			continue
		}
		results[res.TransactionID] = res
	}
	return results
}

func (b *BatchProcessor) writeRow(ctx context.Context, row domain.TransactionRecord, u schema.Update, stats *RunStats) {
	log := logger.FromContext(ctx).With().
		Str("transaction_id", row.TransactionID).
		Int("row_index", row.RowIndex).
		Logger()

	var current []string
	if row.RowIndex >= 0 && row.RowIndex < len(b.Rows) {
		current = b.Rows[row.RowIndex]
	}
	values := b.Schema.Apply(current, u)

	if b.DryRun {
		stats.Updated++
		log.Info().Str("description", u.Description).Str("category", u.Category).Msg("Dry run: row not written")
		return
	}

	err := retry.Do(ctx, b.WritePolicy.NoRetry(), "WriteRow", func(ctx context.Context) error {
		return b.Store.WriteRow(ctx, b.Table, row.RowIndex, values)
	})
	if err != nil {
		stats.WriteFailures++
		log.Error().Err(err).Msg("Failed to write row")
		return
	}

	if row.RowIndex >= 0 && row.RowIndex < len(b.Rows) {
		b.Rows[row.RowIndex] = values
	}
	stats.Updated++
	log.Debug().Str("description", u.Description).Str("category", u.Category).Msg("Row updated")
}

func (b *BatchProcessor) recordAudit(ctx context.Context, stats *RunStats, batch, items int, raw string) {
	if b.Audit == nil {
		return
	}
	rec := domain.AuditRecord{
		RunID:     stats.RunID,
		Batch:     batch,
		Provider:  stats.Classifier,
		ItemCount: items,
		RawOutput: raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.Audit.RecordModelOutput(context.WithoutCancel(ctx), rec); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(fmt.Errorf("recordAudit: %w", err)).Int("batch", batch).Msg("Failed to store model output")
	}
}
