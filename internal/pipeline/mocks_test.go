package pipeline_test

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-tidy/internal/classify"
	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/dvloznov/txn-tidy/internal/pipeline"
	"github.com/shopspring/decimal"
)

// MockClassifier is a mock implementation of classify.Classifier for testing.
type MockClassifier struct {
	ClassifyFunc func(ctx context.Context, req classify.Request) (*classify.Response, error)
	Requests     []classify.Request
}

func (m *MockClassifier) Classify(ctx context.Context, req classify.Request) (*classify.Response, error) {
	m.Requests = append(m.Requests, req)
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, req)
	}
	return &classify.Response{SuggestedTransactions: []domain.Result{}}, nil
}

func (m *MockClassifier) Name() string {
	return "mock"
}

// MockAuditSink is a mock implementation of pipeline.AuditSink for testing.
type MockAuditSink struct {
	RecordModelOutputFunc func(ctx context.Context, rec domain.AuditRecord) error
	Records               []domain.AuditRecord
}

func (m *MockAuditSink) RecordModelOutput(ctx context.Context, rec domain.AuditRecord) error {
	m.Records = append(m.Records, rec)
	if m.RecordModelOutputFunc != nil {
		return m.RecordModelOutputFunc(ctx, rec)
	}
	return nil
}

// MockContextFetcher is a mock implementation of pipeline.ContextFetcher for testing.
type MockContextFetcher struct {
	FetchContextFunc func(ctx context.Context, amount decimal.NullDecimal, date civil.Date, domain string, allowDateFallback bool) string
}

func (m *MockContextFetcher) FetchContext(ctx context.Context, amount decimal.NullDecimal, date civil.Date, domain string, allowDateFallback bool) string {
	if m.FetchContextFunc != nil {
		return m.FetchContextFunc(ctx, amount, date, domain, allowDateFallback)
	}
	return ""
}

var (
	_ classify.Classifier     = (*MockClassifier)(nil)
	_ pipeline.AuditSink      = (*MockAuditSink)(nil)
	_ pipeline.ContextFetcher = (*MockContextFetcher)(nil)
)

// respondWith builds a response with one result per request item.
func respondWith(req classify.Request, fn func(item domain.RequestItem) domain.Result) *classify.Response {
	results := make([]domain.Result, 0, len(req.Items))
	for _, item := range req.Items {
		results = append(results, fn(item))
	}
	return &classify.Response{SuggestedTransactions: results, Raw: "{}"}
}
