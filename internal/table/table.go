// Package table holds the in-memory tabular value model shared by every
// pipeline stage.
//
// A Table is a column-ordered set of rows. Cell values are untyped (any);
// nil means null. Stages never mutate a received Table's existing columns:
// annotation passes build a new Table that shares row prefixes and appends
// new columns, so upstream outputs stay immutable.
package table

import (
	"fmt"
	"sort"
	"strings"
)

// Table is a materialized rectangular table. Every row has exactly
// len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty table with the given column order.
func New(columns []string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// ColIndex returns the position of a column, or -1.
func (t *Table) ColIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.Rows) }

// Append adds a row. The row must already match the column count; this is a
// programming-error check, not input validation.
func (t *Table) Append(row []any) {
	if len(row) != len(t.Columns) {
		panic(fmt.Sprintf("table: row width %d does not match %d columns", len(row), len(t.Columns)))
	}
	t.Rows = append(t.Rows, row)
}

// Get returns the cell at (row, column index).
func (t *Table) Get(row, col int) any { return t.Rows[row][col] }

// WithColumns returns a new table that shares this table's rows and appends
// the given extra columns. extra[i] must have one value per row.
//
// The receiver's row slices are not modified: each output row is a fresh
// slice whose prefix copies the original cells.
func (t *Table) WithColumns(names []string, extra [][]any) *Table {
	for i, col := range extra {
		if len(col) != len(t.Rows) {
			panic(fmt.Sprintf("table: extra column %s has %d values for %d rows", names[i], len(col), len(t.Rows)))
		}
	}
	out := New(append(append([]string(nil), t.Columns...), names...))
	out.Rows = make([][]any, len(t.Rows))
	for r, row := range t.Rows {
		nr := make([]any, 0, len(row)+len(names))
		nr = append(nr, row...)
		for _, col := range extra {
			nr = append(nr, col[r])
		}
		out.Rows[r] = nr
	}
	return out
}

// SortRows sorts rows by the named columns in order, nulls first, using the
// canonical string form of each cell. Sorting is stable so equal keys keep
// their input order.
func (t *Table) SortRows(by ...string) {
	idx := make([]int, 0, len(by))
	for _, name := range by {
		if i := t.ColIndex(name); i >= 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(t.Rows, func(a, b int) bool {
		for _, i := range idx {
			ka, kb := NormalizeKey(t.Rows[a][i]), NormalizeKey(t.Rows[b][i])
			if ka != kb {
				return ka < kb
			}
		}
		return false
	})
}

// String renders a short description for logs.
func (t *Table) String() string {
	return fmt.Sprintf("table(%d rows, %d cols: %s)", len(t.Rows), len(t.Columns), strings.Join(t.Columns, ","))
}
