package store

import (
	"context"
	"errors"
	"strings"
)

// ErrTableNotFound is returned by ReadTable for an unknown table name.
var ErrTableNotFound = errors.New("table not found")

// Store is a header-driven tabular store. Row indexes are 0-based positions
// below the header row.
type Store interface {
	ReadTable(ctx context.Context, name string) (*Table, error)
	// WriteRow stores values as the row at rowIndex. Backends that hold typed
	// cells write only the cells that differ from the last ReadTable.
	WriteRow(ctx context.Context, name string, rowIndex int, values []string) error
	Close() error
}

// Table is a snapshot of one table: the header row and every data row.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// ColumnValues returns every cell of the column whose header matches,
// ignoring case and surrounding whitespace.
func (t *Table) ColumnValues(header string) ([]string, bool) {
	want := strings.TrimSpace(header)
	idx := -1
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}

	values := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		if idx < len(row) {
			values = append(values, row[idx])
		} else {
			values = append(values, "")
		}
	}
	return values, true
}

// ChangedCells returns the positions where values differs from current.
// Cells past the end of current count as empty.
func ChangedCells(current, values []string) []int {
	var changed []int
	for i, v := range values {
		old := ""
		if i < len(current) {
			old = current[i]
		}
		if v != old {
			changed = append(changed, i)
		}
	}
	return changed
}
