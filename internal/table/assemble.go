package table

import (
	"errors"
	"fmt"
)

// ErrIncompleteTable is returned by Assemble when the cells do not cover
// the grid exactly once.
var ErrIncompleteTable = errors.New("incomplete table")

// Table is the recognized text, row-major: Table[row][col].
type Table [][]string

// Rows returns the number of rows.
func (t Table) Rows() int { return len(t) }

// Columns returns the number of columns, or 0 for an empty table.
func (t Table) Columns() int {
	if len(t) == 0 {
		return 0
	}
	return len(t[0])
}

// IncompleteTableError explains why a set of cells could not be assembled.
type IncompleteTableError struct {
	Rows, Cols int
	Reason     string
}

// Error implements the error interface.
func (e *IncompleteTableError) Error() string {
	return fmt.Sprintf("incomplete table (%dx%d): %s", e.Rows, e.Cols, e.Reason)
}

// Is reports whether target is ErrIncompleteTable.
func (e *IncompleteTableError) Is(target error) bool {
	return target == ErrIncompleteTable
}

// Assemble places every cell's text at its coordinates.
//
// It fails with an *IncompleteTableError unless cells holds exactly
// rows*cols entries with every (row, col) in range and present once. Text
// is copied as is.
func Assemble(cells []RecognizedCell, rows, cols int) (Table, error) {
	incomplete := func(format string, args ...any) error {
		return &IncompleteTableError{Rows: rows, Cols: cols, Reason: fmt.Sprintf(format, args...)}
	}

	if rows < 1 || cols < 1 {
		return nil, incomplete("grid must have at least one row and one column")
	}
	if len(cells) != rows*cols {
		return nil, incomplete("got %d cells, want %d", len(cells), rows*cols)
	}

	seen := make([]bool, rows*cols)
	t := make(Table, rows)
	for i := range t {
		t[i] = make([]string, cols)
	}

	for _, c := range cells {
		if c.Row < 0 || c.Row >= rows || c.Col < 0 || c.Col >= cols {
			return nil, incomplete("cell (%d,%d) out of range", c.Row, c.Col)
		}
		k := c.Row*cols + c.Col
		if seen[k] {
			return nil, incomplete("duplicate cell (%d,%d)", c.Row, c.Col)
		}
		seen[k] = true
		t[c.Row][c.Col] = c.Text
	}

	// Unreachable while the count matches and duplicates are rejected.
	for k, ok := range seen {
		if !ok {
			return nil, incomplete("missing cell (%d,%d)", k/cols, k%cols)
		}
	}

	return t, nil
}
