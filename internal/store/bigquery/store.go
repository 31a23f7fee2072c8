package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txn-tidy/internal/store"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Store treats each table of a dataset as a store table. Rows are addressed on
// write by a unique key column, so row indexes only need to be stable between
// a ReadTable and the writes that follow it.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	keyColumn string

	mu        sync.Mutex
	snapshots map[string]*snapshot
}

type snapshot struct {
	schema bigquery.Schema
	header []string
	rows   [][]string
}

// New creates a store with its own BigQuery client.
func New(ctx context.Context, projectID, datasetID, keyColumn string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: bigquery client: %w", err)
	}
	return &Store{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		keyColumn: keyColumn,
		snapshots: make(map[string]*snapshot),
	}, nil
}

// Client exposes the shared client so the audit sink can reuse the connection.
func (s *Store) Client() *bigquery.Client {
	return s.client
}

// Close closes the BigQuery client.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) tableRef(name string) (string, error) {
	return tableRef(s.projectID, s.datasetID, name)
}

// ReadTable selects every column of every row in a stable order: by the key
// column when the table has one, otherwise by the whole row.
func (s *Store) ReadTable(ctx context.Context, name string) (*store.Table, error) {
	ref, err := s.tableRef(name)
	if err != nil {
		return nil, fmt.Errorf("ReadTable: %w", err)
	}

	meta, err := s.client.DatasetInProject(s.projectID, s.datasetID).Table(name).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("ReadTable: %w: %q", store.ErrTableNotFound, name)
		}
		return nil, fmt.Errorf("ReadTable: table metadata: %w", err)
	}

	it, err := s.client.Query(buildSelect(ref, meta.Schema, s.keyColumn)).Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("ReadTable: %w: %q", store.ErrTableNotFound, name)
		}
		return nil, fmt.Errorf("ReadTable: query read: %w", err)
	}

	var rows [][]string
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ReadTable: iter next: %w", err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = cellString(v)
		}
		rows = append(rows, row)
	}

	header := make([]string, len(it.Schema))
	for i, f := range it.Schema {
		header[i] = f.Name
	}

	s.mu.Lock()
	s.snapshots[name] = &snapshot{schema: it.Schema, header: header, rows: rows}
	s.mu.Unlock()

	return &store.Table{Name: name, Header: header, Rows: copyRows(rows)}, nil
}

// WriteRow updates the cells that differ from the last read, addressing the
// row by its key column.
func (s *Store) WriteRow(ctx context.Context, name string, rowIndex int, values []string) error {
	s.mu.Lock()
	snap, ok := s.snapshots[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("WriteRow: table %q has not been read", name)
	}
	if rowIndex < 0 || rowIndex >= len(snap.rows) {
		return fmt.Errorf("WriteRow: row index %d out of range", rowIndex)
	}

	ref, err := s.tableRef(name)
	if err != nil {
		return fmt.Errorf("WriteRow: %w", err)
	}
	sql, params, err := buildUpdate(ref, snap.schema, s.keyColumn, snap.rows[rowIndex], values)
	if err != nil {
		return fmt.Errorf("WriteRow: %w", err)
	}
	if sql == "" {
		return nil
	}

	q := s.client.Query(sql)
	q.Parameters = params
	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("WriteRow: %w", err)
	}

	s.mu.Lock()
	updated := make([]string, len(snap.header))
	copy(updated, snap.rows[rowIndex])
	copy(updated, values)
	snap.rows[rowIndex] = updated
	s.mu.Unlock()
	return nil
}

// buildSelect orders by keyColumn when schema has it. Tables without it, such
// as the category catalog, are ordered by their JSON rendering.
func buildSelect(ref string, schema bigquery.Schema, keyColumn string) string {
	for _, f := range schema {
		if keyColumn != "" && strings.EqualFold(f.Name, keyColumn) {
			return fmt.Sprintf("SELECT * FROM %s ORDER BY %s", ref, quoteIdent(f.Name))
		}
	}
	return fmt.Sprintf("SELECT * FROM %s AS t ORDER BY TO_JSON_STRING(t)", ref)
}

// buildUpdate returns an empty statement when nothing changed.
func buildUpdate(ref string, schema bigquery.Schema, keyColumn string, current, values []string) (string, []bigquery.QueryParameter, error) {
	keyIdx := -1
	for i, f := range schema {
		if strings.EqualFold(f.Name, keyColumn) {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return "", nil, fmt.Errorf("buildUpdate: key column %q not in table", keyColumn)
	}
	if keyIdx >= len(current) || current[keyIdx] == "" {
		return "", nil, fmt.Errorf("buildUpdate: row has no value for key column %q", keyColumn)
	}

	var sets []string
	var params []bigquery.QueryParameter
	for i, f := range schema {
		if i == keyIdx || i >= len(values) {
			continue
		}
		var old string
		if i < len(current) {
			old = current[i]
		}
		if values[i] == old {
			continue
		}
		v, err := paramValue(f, values[i])
		if err != nil {
			return "", nil, fmt.Errorf("buildUpdate: column %q: %w", f.Name, err)
		}
		p := fmt.Sprintf("p%d", len(params))
		sets = append(sets, fmt.Sprintf("%s = @%s", quoteIdent(f.Name), p))
		params = append(params, bigquery.QueryParameter{Name: p, Value: v})
	}
	if len(sets) == 0 {
		return "", nil, nil
	}

	key, err := paramValue(schema[keyIdx], current[keyIdx])
	if err != nil {
		return "", nil, fmt.Errorf("buildUpdate: key column %q: %w", keyColumn, err)
	}
	params = append(params, bigquery.QueryParameter{Name: "key", Value: key})

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = @key",
		ref, strings.Join(sets, ", "), quoteIdent(schema[keyIdx].Name))
	return sql, params, nil
}

func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func tableRef(projectID, datasetID, table string) (string, error) {
	for _, part := range []string{projectID, datasetID, table} {
		if part == "" || strings.ContainsAny(part, "`\n") {
			return "", fmt.Errorf("invalid table reference %q.%q.%q", projectID, datasetID, table)
		}
	}
	return "`" + projectID + "." + datasetID + "." + table + "`", nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
