package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/google/uuid"
)

// AuditSink stores the raw model output of every classified batch. The table
// needs the columns output_id, run_id, batch_no, model_name, item_count,
// raw_output and created_ts.
type AuditSink struct {
	client *bigquery.Client
	ref    string
}

// NewAuditSink writes to projectID.datasetID.table using an existing client.
func NewAuditSink(client *bigquery.Client, projectID, datasetID, table string) (*AuditSink, error) {
	ref, err := tableRef(projectID, datasetID, table)
	if err != nil {
		return nil, fmt.Errorf("NewAuditSink: %w", err)
	}
	return &AuditSink{client: client, ref: ref}, nil
}

// RecordModelOutput inserts one row. Uses DML INSERT to avoid streaming buffer issues.
func (a *AuditSink) RecordModelOutput(ctx context.Context, rec domain.AuditRecord) error {
	q := a.client.Query(`
		INSERT INTO ` + a.ref + ` (
			output_id, run_id, batch_no,
			model_name, item_count, raw_output, created_ts
		)
		VALUES (
			@output_id, @run_id, @batch_no,
			@model_name, @item_count, @raw_output, @created_ts
		)
	`)
	q.Parameters = auditParams(rec)

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("RecordModelOutput: %w", err)
	}
	return nil
}

func auditParams(rec domain.AuditRecord) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "output_id", Value: uuid.NewString()},
		{Name: "run_id", Value: rec.RunID},
		{Name: "batch_no", Value: int64(rec.Batch)},
		{Name: "model_name", Value: rec.Provider},
		{Name: "item_count", Value: int64(rec.ItemCount)},
		{Name: "raw_output", Value: rec.RawOutput},
		{Name: "created_ts", Value: rec.CreatedAt},
	}
}
