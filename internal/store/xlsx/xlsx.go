package xlsx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/txn-tidy/internal/store"
	"github.com/xuri/excelize/v2"
)

// Store serves the sheets of one workbook as tables. Writes are held in
// memory and saved to disk on Close.
type Store struct {
	mu    sync.Mutex
	path  string
	file  *excelize.File
	dirty bool

	// snapshots holds the displayed values of each sheet as last read.
	snapshots map[string][][]string
}

// Open opens an existing workbook.
func Open(path string) (*Store, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	return &Store{path: path, file: f, snapshots: make(map[string][][]string)}, nil
}

// ReadTable returns the displayed values of the named sheet. Row 1 is the header.
func (s *Store) ReadTable(ctx context.Context, name string) (*store.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.file.GetRows(name)
	if err != nil {
		var notExist excelize.ErrSheetNotExist
		if errors.As(err, &notExist) {
			return nil, fmt.Errorf("ReadTable: %w: %q", store.ErrTableNotFound, name)
		}
		return nil, fmt.Errorf("ReadTable: reading sheet %q: %w", name, err)
	}

	table := &store.Table{Name: name}
	if len(rows) == 0 {
		return table, nil
	}
	table.Header = rows[0]
	table.Rows = rows[1:]

	snapshot := make([][]string, len(table.Rows))
	for i, row := range table.Rows {
		snapshot[i] = append([]string(nil), row...)
	}
	s.snapshots[name] = snapshot
	return table, nil
}

// WriteRow sets only the cells of the data row at rowIndex that differ from
// the last read, so numbers, formulas and styles elsewhere in the row are kept.
func (s *Store) WriteRow(ctx context.Context, name string, rowIndex int, values []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rowIndex < 0 {
		return fmt.Errorf("WriteRow: row index %d out of range", rowIndex)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.file.GetSheetIndex(name)
	if err != nil {
		return fmt.Errorf("WriteRow: %w", err)
	}
	if idx < 0 {
		return fmt.Errorf("WriteRow: %w: %q", store.ErrTableNotFound, name)
	}

	var current []string
	if snapshot := s.snapshots[name]; rowIndex < len(snapshot) {
		current = snapshot[rowIndex]
	}

	changed := store.ChangedCells(current, values)
	for _, col := range changed {
		cell, err := excelize.CoordinatesToCellName(col+1, rowIndex+2)
		if err != nil {
			return fmt.Errorf("WriteRow: %w", err)
		}
		if err := s.file.SetCellValue(name, cell, values[col]); err != nil {
			return fmt.Errorf("WriteRow: setting %s: %w", cell, err)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	if snapshot := s.snapshots[name]; rowIndex < len(snapshot) {
		snapshot[rowIndex] = append([]string(nil), values...)
	}
	s.dirty = true
	return nil
}

// Close saves pending writes and releases the workbook.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var saveErr error
	if s.dirty {
		if err := s.file.SaveAs(s.path); err != nil {
			saveErr = fmt.Errorf("Close: saving %s: %w", s.path, err)
		} else {
			s.dirty = false
		}
	}
	if err := s.file.Close(); err != nil && saveErr == nil {
		return fmt.Errorf("Close: %w", err)
	}
	return saveErr
}
