package engine

import (
	"context"
	"database/sql"
	"strings"
)

// Exec runs a single statement against the named handle and returns its
// shaped result. Queries (SELECT, PRAGMA, WITH, VALUES, EXPLAIN) and DML
// with a RETURNING clause materialize a row set; everything else reports
// last-insert-id and rows-affected.
//
// Blocking: returns once the statement has finished. Callers issuing Exec
// for the same handle from multiple goroutines must serialize externally.
func (e *Engine) Exec(ctx context.Context, name, query string, params ...any) (Result, error) {
	h, err := e.get(name)
	if err != nil {
		return Result{}, err
	}
	return execOn(ctx, h, query, params...)
}

// ExecAsync runs a statement without blocking the caller.
// The statement is appended to the handle's dispatch queue and executed in
// submission order relative to other ExecAsync calls for the same handle.
// The returned Pending settles exactly once.
func (e *Engine) ExecAsync(ctx context.Context, name, query string, params ...any) *Pending {
	p := newPending()

	h, err := e.get(name)
	if err != nil {
		p.settle(Result{}, err)
		return p
	}

	ok := h.enqueue(func() {
		p.settle(execOn(ctx, h, query, params...))
	})
	if !ok {
		p.settle(Result{}, &NotOpenError{Name: name})
	}

	return p
}

// execOn executes one statement on an already-resolved handle.
func execOn(ctx context.Context, h *handle, query string, params ...any) (Result, error) {
	if returnsRows(query) {
		rows, err := h.db.QueryContext(ctx, query, params...)
		if err != nil {
			return Result{}, newEngineError("exec", h.name, err)
		}
		defer rows.Close()

		shaped, err := shapeRows(rows)
		if err != nil {
			return Result{}, newEngineError("exec", h.name, err)
		}
		return Result{Rows: shaped}, nil
	}

	res, err := h.db.ExecContext(ctx, query, params...)
	if err != nil {
		return Result{}, newEngineError("exec", h.name, err)
	}

	// The sqlite3 driver supports both; errors here would indicate a
	// driver bug, so they are ignored rather than failing the statement.
	insertID, _ := res.LastInsertId()
	affected, _ := res.RowsAffected()

	return Result{LastInsertID: insertID, RowsAffected: affected}, nil
}

// returnsRows reports whether a statement produces a result set, judged by
// its leading keyword. DML statements additionally produce rows when they
// carry a RETURNING clause.
func returnsRows(query string) bool {
	q := strings.TrimSpace(query)
	for {
		switch {
		case strings.HasPrefix(q, "--"):
			idx := strings.IndexByte(q, '\n')
			if idx < 0 {
				return false
			}
			q = strings.TrimSpace(q[idx+1:])
		case strings.HasPrefix(q, "/*"):
			idx := strings.Index(q, "*/")
			if idx < 0 {
				return false
			}
			q = strings.TrimSpace(q[idx+2:])
		default:
			word := q
			if idx := strings.IndexFunc(q, func(r rune) bool {
				return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' || r == ';'
			}); idx >= 0 {
				word = q[:idx]
			}
			switch strings.ToUpper(word) {
			case "SELECT", "PRAGMA", "WITH", "VALUES", "EXPLAIN":
				return true
			case "INSERT", "UPDATE", "DELETE", "REPLACE":
				return hasReturning(q)
			}
			return false
		}
	}
}

// hasReturning scans a DML statement for a RETURNING clause, skipping
// quoted literals and comments so the keyword is only matched as SQL.
func hasReturning(q string) bool {
	for i := 0; i < len(q); {
		c := q[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote := c
			i++
			for i < len(q) {
				if q[i] == quote {
					// A doubled quote is an escaped literal character.
					if i+1 < len(q) && q[i+1] == quote {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case c == '-' && i+1 < len(q) && q[i+1] == '-':
			for i < len(q) && q[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(q) && q[i+1] == '*':
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += 2 + end + 2
		case isIdentByte(c):
			start := i
			for i < len(q) && isIdentByte(q[i]) {
				i++
			}
			if strings.EqualFold(q[start:i], "RETURNING") {
				return true
			}
		default:
			i++
		}
	}
	return false
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		('0' <= c && c <= '9') ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z')
}

// shapeRows materializes a *sql.Rows cursor into the Rows accessor shape.
func shapeRows(rows *sql.Rows) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	shaped := &Rows{Columns: cols}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			// Normalize []byte to string so row values compare cleanly.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		shaped.Values = append(shaped.Values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return shaped, nil
}

// Pending is a future for one asynchronous statement.
// It settles exactly once; Wait may be called any number of times.
type Pending struct {
	ch     chan struct{}
	result Result
	err    error
}

func newPending() *Pending {
	return &Pending{ch: make(chan struct{})}
}

// settle records the outcome and releases waiters.
func (p *Pending) settle(res Result, err error) {
	p.result = res
	p.err = err
	close(p.ch)
}

// Wait blocks until the statement settles or the context is cancelled.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-p.ch:
		return p.result, p.err
	}
}

// Done returns a channel closed when the statement has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.ch
}
