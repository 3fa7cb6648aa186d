package models

import (
	dErrors "outlab/pkg/domain-errors"
)

// Table is an in-memory tabular dataset: named columns over string-valued
// cells. Loaders produce it, the cache owns the canonical instance, and
// every consumer works on a defensive copy.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// NewTable builds a table and checks every row against the column count.
func NewTable(columns []string, rows [][]string) (*Table, error) {
	for _, row := range rows {
		if len(row) != len(columns) {
			return nil, dErrors.New(dErrors.CodeValidation, "row width does not match column count")
		}
	}
	return &Table{Columns: columns, Rows: rows}, nil
}

func (t *Table) RowCount() int {
	return len(t.Rows)
}

func (t *Table) ColumnCount() int {
	return len(t.Columns)
}

// ColumnIndex returns the offset of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns the values of the named column in row order.
func (t *Table) Column(name string) ([]string, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[idx]
	}
	return values, true
}

// Clone returns a deep copy. Handing out clones keeps the cached instance
// exclusively owned by the cache.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	cp := &Table{
		Columns: make([]string, len(t.Columns)),
		Rows:    make([][]string, len(t.Rows)),
	}
	copy(cp.Columns, t.Columns)
	for i, row := range t.Rows {
		cp.Rows[i] = make([]string, len(row))
		copy(cp.Rows[i], row)
	}
	return cp
}

// ApproxSizeBytes estimates the table's memory footprint for cache budgeting.
// String headers and slice overhead are approximated at 16 bytes per cell.
func (t *Table) ApproxSizeBytes() int64 {
	var size int64
	for _, c := range t.Columns {
		size += int64(len(c)) + 16
	}
	for _, row := range t.Rows {
		size += 24
		for _, cell := range row {
			size += int64(len(cell)) + 16
		}
	}
	return size
}
