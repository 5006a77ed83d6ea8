package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Statement pairs a query with its parameters for batch execution.
type Statement struct {
	Query  string
	Params []any
}

// ExecBatch runs statements sequentially against the named handle,
// stopping at the first failure. Results for the statements that ran
// are returned either way.
//
// ExecBatch does not wrap the statements in a transaction; callers wanting
// atomicity run the batch through a scheduled transaction instead.
func (e *Engine) ExecBatch(ctx context.Context, name string, stmts []Statement) ([]Result, error) {
	h, err := e.get(name)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(stmts))
	for i, stmt := range stmts {
		res, err := execOn(ctx, h, stmt.Query, stmt.Params...)
		if err != nil {
			return results, fmt.Errorf("batch statement %d: %w", i, err)
		}
		results = append(results, res)
	}

	return results, nil
}

// ExecBatchAsync runs ExecBatch on the handle's dispatch goroutine and
// returns a future for the combined outcome.
func (e *Engine) ExecBatchAsync(ctx context.Context, name string, stmts []Statement) *PendingBatch {
	p := newPendingBatch()

	h, err := e.get(name)
	if err != nil {
		p.settle(nil, err)
		return p
	}

	ok := h.enqueue(func() {
		results := make([]Result, 0, len(stmts))
		for i, stmt := range stmts {
			res, err := execOn(ctx, h, stmt.Query, stmt.Params...)
			if err != nil {
				p.settle(results, fmt.Errorf("batch statement %d: %w", i, err))
				return
			}
			results = append(results, res)
		}
		p.settle(results, nil)
	})
	if !ok {
		p.settle(nil, &NotOpenError{Name: name})
	}

	return p
}

// LoadFile reads a SQL command file, splits it into statements, and runs
// them as a batch against the named handle.
func (e *Engine) LoadFile(ctx context.Context, name, path string) ([]Result, error) {
	stmts, err := readCommandFile(path)
	if err != nil {
		return nil, err
	}
	return e.ExecBatch(ctx, name, stmts)
}

// LoadFileAsync is the future-returning variant of LoadFile.
// The file is read synchronously so path errors surface immediately in the
// returned future; execution happens on the dispatch goroutine.
func (e *Engine) LoadFileAsync(ctx context.Context, name, path string) *PendingBatch {
	stmts, err := readCommandFile(path)
	if err != nil {
		p := newPendingBatch()
		p.settle(nil, err)
		return p
	}
	return e.ExecBatchAsync(ctx, name, stmts)
}

// readCommandFile loads and splits a SQL script.
func readCommandFile(path string) ([]Statement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read command file: %w", err)
	}

	split := SplitStatements(string(data))
	stmts := make([]Statement, 0, len(split))
	for _, q := range split {
		stmts = append(stmts, Statement{Query: q})
	}
	return stmts, nil
}

// SplitStatements splits a SQL script on semicolons, respecting single and
// double quoted literals, line comments (--) and block comments.
// Empty statements are dropped.
func SplitStatements(script string) []string {
	var stmts []string
	var b strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(b.String())
		b.Reset()
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}

	i := 0
	for i < len(script) {
		c := script[i]
		switch {
		case c == ';':
			flush()
			i++

		case c == '\'' || c == '"':
			// Quoted literal/identifier: copy until the matching close quote.
			// SQLite escapes a quote by doubling it.
			quote := c
			b.WriteByte(c)
			i++
			for i < len(script) {
				b.WriteByte(script[i])
				if script[i] == quote {
					if i+1 < len(script) && script[i+1] == quote {
						b.WriteByte(script[i+1])
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}

		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			// Line comment: skip to end of line.
			for i < len(script) && script[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			// Block comment: skip to closing marker.
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				i = len(script)
				break
			}
			i += 2 + end + 2

		default:
			b.WriteByte(c)
			i++
		}
	}
	flush()

	return stmts
}

// PendingBatch is a future for an asynchronous batch.
type PendingBatch struct {
	ch      chan struct{}
	results []Result
	err     error
}

func newPendingBatch() *PendingBatch {
	return &PendingBatch{ch: make(chan struct{})}
}

func (p *PendingBatch) settle(results []Result, err error) {
	p.results = results
	p.err = err
	close(p.ch)
}

// Wait blocks until the batch settles or the context is cancelled.
// Results for statements that completed before a failure are returned
// alongside the error.
func (p *PendingBatch) Wait(ctx context.Context) ([]Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ch:
		return p.results, p.err
	}
}
