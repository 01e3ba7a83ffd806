// Package dataset defines the tabular data model shared by the provider
// clients, the cache store and the refresh orchestrator.
package dataset

import (
	"fmt"
	"sort"
)

// System identifies one of the national health-data systems served by DATASUS.
type System string

const (
	// SystemSIM is the mortality information system.
	SystemSIM System = "SIM"
	// SystemSINAN is the notifiable-disease information system.
	SystemSINAN System = "SINAN"
	// SystemSINASC is the live-births information system.
	SystemSINASC System = "SINASC"
)

// Systems returns all known systems in a stable order.
func Systems() []System {
	return []System{SystemSIM, SystemSINAN, SystemSINASC}
}

// Valid reports whether s is a known system.
func (s System) Valid() bool {
	switch s {
	case SystemSIM, SystemSINAN, SystemSINASC:
		return true
	}
	return false
}

// Source records where a cached dataset came from.
type Source string

const (
	// SourceDATASUS marks data fetched from the external provider.
	SourceDATASUS Source = "datasus"
	// SourceSynthetic marks demonstration data. Consumers must surface this
	// flag unconditionally; synthetic data is never authoritative.
	SourceSynthetic Source = "synthetic"
)

// Table is an ordered-column tabular payload. Rows map column names to
// scalar values; every row's keys must be a subset of Columns.
type Table struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// NewTable creates a table with the given column order and no rows.
func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

// Append adds a row. Missing columns are stored as nil on read-out.
func (t *Table) Append(row map[string]any) {
	t.Rows = append(t.Rows, row)
}

// RecordCount returns the number of rows.
func (t *Table) RecordCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table holds no rows.
func (t *Table) Empty() bool {
	return t.RecordCount() == 0
}

// Validate checks structural consistency: non-nil, at least one column,
// no duplicate columns, and no row referencing an undeclared column.
func (t *Table) Validate() error {
	if t == nil {
		return fmt.Errorf("table is nil")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table has no columns")
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c == "" {
			return fmt.Errorf("table has an empty column name")
		}
		if seen[c] {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	for i, row := range t.Rows {
		for col := range row {
			if !seen[col] {
				return fmt.Errorf("row %d references undeclared column %q", i, col)
			}
		}
	}
	return nil
}

// Column returns the values of one column in row order, nil-padded where a
// row does not carry the column.
func (t *Table) Column(name string) []any {
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[name]
	}
	return out
}

// Equal reports whether two tables have the same columns in the same order
// and the same cell values.
func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	if len(t.Columns) != len(other.Columns) || len(t.Rows) != len(other.Rows) {
		return false
	}
	for i, c := range t.Columns {
		if other.Columns[i] != c {
			return false
		}
	}
	for i, row := range t.Rows {
		if len(row) != len(other.Rows[i]) {
			return false
		}
		for col, v := range row {
			if fmt.Sprint(other.Rows[i][col]) != fmt.Sprint(v) {
				return false
			}
		}
	}
	return true
}

// SortedColumns returns a sorted copy of the column names. Used by callers
// that need a canonical ordering independent of schema order.
func (t *Table) SortedColumns() []string {
	cols := append([]string(nil), t.Columns...)
	sort.Strings(cols)
	return cols
}
