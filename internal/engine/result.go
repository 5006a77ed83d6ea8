package engine

import "fmt"

// Result is the shape every execute-style operation returns.
//
// For statements (INSERT, UPDATE, DELETE, DDL) LastInsertID and RowsAffected
// are populated and Rows is nil. For queries (SELECT, PRAGMA, ...) Rows holds
// the materialized row set. The scheduler forwards Results transparently
// through commit/execute return values and never interprets row contents.
type Result struct {
	LastInsertID int64
	RowsAffected int64
	Rows         *Rows
}

// Row is a single result row keyed by column name.
type Row map[string]any

// Rows is a materialized query result set with an index accessor.
//
// Columns preserves the SELECT column order; Values holds one Row per
// result row in cursor order.
type Rows struct {
	Columns []string
	Values  []Row
}

// Len returns the number of rows in the set.
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// Item returns the row at index i.
// Returns an error for out-of-range indexes rather than panicking, matching
// the accessor contract consumers program against.
func (r *Rows) Item(i int) (Row, error) {
	if r == nil || i < 0 || i >= len(r.Values) {
		return nil, fmt.Errorf("row index %d out of range (have %d rows)", i, r.Len())
	}
	return r.Values[i], nil
}
