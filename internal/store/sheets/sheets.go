package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/dvloznov/txn-tidy/internal/store"
	"github.com/xuri/excelize/v2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// valuesAPI is the slice of the Sheets values API the store uses.
type valuesAPI interface {
	Get(ctx context.Context, spreadsheetID, readRange string) ([][]interface{}, error)
	BatchUpdate(ctx context.Context, spreadsheetID string, cells []cellUpdate) error
}

// cellUpdate is one A1 cell and the value entered into it.
type cellUpdate struct {
	Range string
	Value string
}

// Store reads and writes tabs of one spreadsheet. A tab is a table; its first
// row is the header.
type Store struct {
	values        valuesAPI
	spreadsheetID string

	mu        sync.Mutex
	snapshots map[string][][]string
}

// New authenticates with a service-account key file and opens the spreadsheet.
func New(ctx context.Context, spreadsheetID, credentialsFile string) (*Store, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("New: reading credentials: %w", err)
	}

	conf, err := google.JWTConfigFromJSON(b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("New: parsing credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("New: creating sheets service: %w", err)
	}

	return newWithValues(&serviceValues{srv: srv}, spreadsheetID), nil
}

func newWithValues(values valuesAPI, spreadsheetID string) *Store {
	return &Store{
		values:        values,
		spreadsheetID: spreadsheetID,
		snapshots:     make(map[string][][]string),
	}
}

// ReadTable reads every row of the named tab with formatted values.
func (s *Store) ReadTable(ctx context.Context, name string) (*store.Table, error) {
	rows, err := s.values.Get(ctx, s.spreadsheetID, quoteSheet(name))
	if err != nil {
		if isUnknownRange(err) {
			return nil, fmt.Errorf("ReadTable: %w: %q", store.ErrTableNotFound, name)
		}
		return nil, fmt.Errorf("ReadTable: getting values for %q: %w", name, err)
	}

	table := &store.Table{Name: name}
	if len(rows) == 0 {
		return table, nil
	}
	table.Header = toStrings(rows[0])
	table.Rows = make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		table.Rows = append(table.Rows, toStrings(row))
	}

	snapshot := make([][]string, len(table.Rows))
	for i, row := range table.Rows {
		snapshot[i] = append([]string(nil), row...)
	}
	s.mu.Lock()
	s.snapshots[name] = snapshot
	s.mu.Unlock()

	return table, nil
}

// WriteRow enters only the cells of the row at rowIndex (0 is the first row
// below the header) that differ from the last read, in one batch. Other cells
// keep their values, formulas and formats.
func (s *Store) WriteRow(ctx context.Context, name string, rowIndex int, values []string) error {
	if rowIndex < 0 {
		return fmt.Errorf("WriteRow: row index %d out of range", rowIndex)
	}

	s.mu.Lock()
	var current []string
	if snapshot := s.snapshots[name]; rowIndex < len(snapshot) {
		current = snapshot[rowIndex]
	}
	s.mu.Unlock()

	changed := store.ChangedCells(current, values)
	if len(changed) == 0 {
		return nil
	}

	cells := make([]cellUpdate, 0, len(changed))
	for _, col := range changed {
		a1, err := cellRange(name, rowIndex, col)
		if err != nil {
			return fmt.Errorf("WriteRow: %w", err)
		}
		cells = append(cells, cellUpdate{Range: a1, Value: values[col]})
	}
	if err := s.values.BatchUpdate(ctx, s.spreadsheetID, cells); err != nil {
		return fmt.Errorf("WriteRow: updating row %d of %q: %w", rowIndex, name, err)
	}

	s.mu.Lock()
	if snapshot := s.snapshots[name]; rowIndex < len(snapshot) {
		snapshot[rowIndex] = append([]string(nil), values...)
	}
	s.mu.Unlock()
	return nil
}

// Close is a no-op; the Sheets service holds no open resources.
func (s *Store) Close() error {
	return nil
}

// cellRange returns the A1 reference of one cell of a data row. Row 1 is the
// header, so data row 0 lives on sheet row 2.
func cellRange(name string, rowIndex, col int) (string, error) {
	cell, err := excelize.CoordinatesToCellName(col+1, rowIndex+2)
	if err != nil {
		return "", fmt.Errorf("cellRange: %w", err)
	}
	return quoteSheet(name) + "!" + cell, nil
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[i] = s
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}

// isUnknownRange reports the 400 the API returns for a tab that does not exist.
func isUnknownRange(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "Unable to parse range")
}

type serviceValues struct {
	srv *sheets.Service
}

func (v *serviceValues) Get(ctx context.Context, spreadsheetID, readRange string) ([][]interface{}, error) {
	resp, err := v.srv.Spreadsheets.Values.Get(spreadsheetID, readRange).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// BatchUpdate enters every cell with USER_ENTERED semantics, so "TRUE" becomes
// a checkbox value and numbers stay numbers.
func (v *serviceValues) BatchUpdate(ctx context.Context, spreadsheetID string, cells []cellUpdate) error {
	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: "USER_ENTERED"}
	for _, c := range cells {
		req.Data = append(req.Data, &sheets.ValueRange{
			Range:  c.Range,
			Values: [][]interface{}{{c.Value}},
		})
	}
	_, err := v.srv.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).
		Context(ctx).
		Do()
	return err
}
