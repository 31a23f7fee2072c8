package pipeline

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/shopspring/decimal"
)

// ContextFetcher supplies receipt text for platform purchases.
// *enrich.Enricher implements it; a nil ContextFetcher disables enrichment.
type ContextFetcher interface {
	FetchContext(ctx context.Context, amount decimal.NullDecimal, date civil.Date, domain string, allowDateFallback bool) string
}

// AuditSink records raw model output. Failures never stop a run.
type AuditSink interface {
	RecordModelOutput(ctx context.Context, rec domain.AuditRecord) error
}
