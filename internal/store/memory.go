package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store used by tests and dry runs.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*Table
	// WriteHook, when set, is called before each write and can fail it.
	WriteHook func(name string, rowIndex int, values []string) error
	writes    int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*Table)}
}

// PutTable stores a copy of t.
func (m *Memory) PutTable(t *Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.Name] = copyTable(t)
}

// ReadTable returns a copy so callers cannot mutate stored rows.
func (m *Memory) ReadTable(ctx context.Context, name string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ReadTable: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("ReadTable: %q: %w", name, ErrTableNotFound)
	}
	return copyTable(t), nil
}

// WriteRow replaces the stored row at rowIndex.
func (m *Memory) WriteRow(ctx context.Context, name string, rowIndex int, values []string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("WriteRow: %w", err)
	}
	if m.WriteHook != nil {
		if err := m.WriteHook(name, rowIndex, values); err != nil {
			return fmt.Errorf("WriteRow: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[name]
	if !ok {
		return fmt.Errorf("WriteRow: %q: %w", name, ErrTableNotFound)
	}
	if rowIndex < 0 || rowIndex >= len(t.Rows) {
		return fmt.Errorf("WriteRow: row %d out of range for %q", rowIndex, name)
	}
	t.Rows[rowIndex] = append([]string(nil), values...)
	m.writes++
	return nil
}

// Writes reports how many rows have been written.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

func copyTable(t *Table) *Table {
	out := &Table{
		Name:   t.Name,
		Header: append([]string(nil), t.Header...),
		Rows:   make([][]string, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out
}
