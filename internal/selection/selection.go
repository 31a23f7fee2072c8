package selection

import (
	"context"
	"strings"

	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/dvloznov/txn-tidy/internal/logger"
	"github.com/dvloznov/txn-tidy/internal/normalize"
)

// Filter decides which rows still need a description or category.
type Filter struct {
	Fallback string
}

// New returns a Filter treating fallback as "not yet categorized".
func New(fallback string) *Filter {
	return &Filter{Fallback: fallback}
}

// NeedsProcessing is true for uncategorized rows, rows carrying the fallback
// category, and platform purchases whose description is still a placeholder.
func (f *Filter) NeedsProcessing(row domain.TransactionRecord) bool {
	category := strings.TrimSpace(row.Category)
	if category == "" || category == f.Fallback {
		return true
	}
	if _, ok := normalize.MatchPlatform(row.OriginalDescription); ok {
		return normalize.IsGenericDescription(row.Description)
	}
	return false
}

// Select returns the rows to process in table order. Rows without an ID are
// skipped, and only the first row of a duplicated ID is eligible.
func (f *Filter) Select(ctx context.Context, rows []domain.TransactionRecord) []domain.TransactionRecord {
	log := logger.FromContext(ctx)

	seen := make(map[string]int, len(rows))
	var selected []domain.TransactionRecord
	for _, row := range rows {
		id := row.TransactionID
		if id == "" {
			if f.NeedsProcessing(row) {
				log.Debug().Int("row_index", row.RowIndex).Msg("Skipping row without transaction ID")
			}
			continue
		}
		if first, dup := seen[id]; dup {
			log.Warn().
				Str("transaction_id", id).
				Int("row_index", row.RowIndex).
				Int("first_row_index", first).
				Msg("Skipping duplicate transaction ID")
			continue
		}
		seen[id] = row.RowIndex

		if f.NeedsProcessing(row) {
			selected = append(selected, row)
		}
	}

	log.Info().Int("rows", len(rows)).Int("selected", len(selected)).Msg("Selected rows for processing")
	return selected
}
