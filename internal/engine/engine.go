package engine

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Engine is the SQLite-backed facade. It maps handle names to open database
// connections and executes statements against them.
//
// Thread-safety model:
//   - Open/Close/Delete/Attach/Detach: safe from any goroutine (map mutex)
//   - Exec against one handle: must be externally serialized (scheduler's job)
//   - ExecAsync against one handle: serialized internally by the handle's
//     dispatch goroutine
type Engine struct {
	mu      sync.Mutex
	handles map[string]*handle
}

// handle is one open SQLite connection plus its async dispatch loop.
type handle struct {
	name string
	path string
	db   *sql.DB

	mu     sync.Mutex
	closed bool
	jobs   chan func()
	done   chan struct{}
}

// New creates an engine facade with no open handles.
func New() *Engine {
	return &Engine{
		handles: make(map[string]*handle),
	}
}

// Open creates or opens a SQLite database under the given handle name.
// location, when non-empty, is the directory holding the database file;
// the file name is the handle name. A name of ":memory:" opens an
// in-memory database.
//
// Applies the pragmas documented in the package comment. Fails with
// AlreadyOpenError if the name is already live.
func (e *Engine) Open(name, location string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.handles[name]; ok {
		return &AlreadyOpenError{Name: name}
	}

	path := databasePath(name, location)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return newEngineError("open", name, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return newEngineError("open", name, err)
	}

	// SQLite only supports one writer at a time; a single connection also
	// guarantees BEGIN/COMMIT/ROLLBACK statements share a session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return newEngineError("open", name, err)
	}

	h := &handle{
		name: name,
		path: path,
		db:   db,
		jobs: make(chan func(), 16),
		done: make(chan struct{}),
	}
	go h.dispatch()

	e.handles[name] = h

	slog.Debug("handle opened", "handle", name, "path", path)
	return nil
}

// Close closes the handle and removes it from the facade.
// Fails with NotOpenError for unknown names.
func (e *Engine) Close(name string) error {
	e.mu.Lock()
	h, ok := e.handles[name]
	if !ok {
		e.mu.Unlock()
		return &NotOpenError{Name: name}
	}
	delete(e.handles, name)
	e.mu.Unlock()

	h.shutdown()
	if err := h.db.Close(); err != nil {
		return newEngineError("close", name, err)
	}

	slog.Debug("handle closed", "handle", name)
	return nil
}

// Delete closes the handle if it is open, then removes the database file.
// Closing first is required on platforms where open files cannot be unlinked.
func (e *Engine) Delete(name, location string) error {
	// Best effort close; a handle that was never opened is fine.
	if err := e.Close(name); err != nil && !IsNotOpen(err) {
		return err
	}

	path := databasePath(name, location)
	if path == ":memory:" {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return newEngineError("delete", name, err)
	}
	return nil
}

// Attach attaches another database file to an open handle under an alias.
// Attached databases are addressed as alias.table in subsequent statements.
// Side-channel operation: not routed through the transaction queue.
func (e *Engine) Attach(mainName, nameToAttach, alias, location string) error {
	h, err := e.get(mainName)
	if err != nil {
		return err
	}

	path := databasePath(nameToAttach, location)
	if _, err := h.db.Exec("ATTACH DATABASE ? AS "+quoteIdent(alias), path); err != nil {
		return newEngineError("attach", mainName, err)
	}
	return nil
}

// Detach removes a previously attached alias from an open handle.
func (e *Engine) Detach(mainName, alias string) error {
	h, err := e.get(mainName)
	if err != nil {
		return err
	}

	if _, err := h.db.Exec("DETACH DATABASE " + quoteIdent(alias)); err != nil {
		return newEngineError("detach", mainName, err)
	}
	return nil
}

// Names returns the currently open handle names.
// Useful for diagnostics and tests; order is unspecified.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.handles))
	for name := range e.handles {
		names = append(names, name)
	}
	return names
}

// get resolves a handle by name.
func (e *Engine) get(name string) (*handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.handles[name]
	if !ok {
		return nil, &NotOpenError{Name: name}
	}
	return h, nil
}

// dispatch is the handle's async statement loop.
// All ExecAsync work for the handle runs here, in submission order.
func (h *handle) dispatch() {
	defer close(h.done)
	for job := range h.jobs {
		job()
	}
}

// enqueue submits a job to the dispatch loop.
// Returns false once the handle has been closed.
func (h *handle) enqueue(job func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.jobs <- job
	return true
}

// shutdown stops the dispatch loop and waits for in-flight jobs to finish.
func (h *handle) shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.jobs)
	h.mu.Unlock()

	<-h.done
}

// databasePath resolves a handle name plus optional location directory to
// the SQLite path. ":memory:" is passed through untouched.
func databasePath(name, location string) string {
	if name == ":memory:" || location == "" {
		return name
	}
	return filepath.Join(location, name)
}

// quoteIdent quotes an identifier for interpolation into ATTACH/DETACH,
// which do not accept placeholders for the alias position.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}
