package harness

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/roach88/turnstile/internal/engine"
)

// Call is one recorded engine invocation.
type Call struct {
	Seq    int64  `json:"seq"`
	Handle string `json:"handle"`
	Query  string `json:"query"`
}

// Recorder is a scheduler.Executor that records every call instead of
// touching a database. Scenario runs and scheduler tests instrument the
// engine facade with it to assert on call ordering.
//
// Thread-safety: all methods are safe for concurrent use; Seq values are
// assigned under the same lock that appends, so the log order and the
// sequence numbers always agree.
type Recorder struct {
	mu    sync.Mutex
	seq   int64
	calls []Call

	failSubstrings  []string
	delaySubstrings map[string]time.Duration
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		delaySubstrings: make(map[string]time.Duration),
	}
}

// FailOn makes any query containing the substring fail with an EngineError.
func (r *Recorder) FailOn(substring string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSubstrings = append(r.failSubstrings, substring)
}

// DelayOn makes any query containing the substring sleep before returning.
// Used to provoke overlap in cross-handle independence tests.
func (r *Recorder) DelayOn(substring string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delaySubstrings[substring] = d
}

// Exec records the call and returns an empty successful result, a
// configured injected failure, or sleeps first when a delay matches.
func (r *Recorder) Exec(ctx context.Context, name, query string, params ...any) (engine.Result, error) {
	r.mu.Lock()
	r.seq++
	r.calls = append(r.calls, Call{Seq: r.seq, Handle: name, Query: query})

	var delay time.Duration
	for sub, d := range r.delaySubstrings {
		if strings.Contains(query, sub) {
			delay = d
			break
		}
	}
	var failed bool
	for _, sub := range r.failSubstrings {
		if strings.Contains(query, sub) {
			failed = true
			break
		}
	}
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	if failed {
		return engine.Result{}, &engine.EngineError{Op: "exec", Handle: name, Err: errInjected}
	}

	return engine.Result{RowsAffected: 1}, nil
}

// Calls returns a copy of the recorded log in call order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Queries returns just the query strings, optionally filtered to one handle
// (empty name means all handles).
func (r *Recorder) Queries(handle string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, c := range r.calls {
		if handle == "" || c.Handle == handle {
			out = append(out, c.Query)
		}
	}
	return out
}

// errInjected marks failures provoked by FailOn.
var errInjected = injectedError{}

type injectedError struct{}

func (injectedError) Error() string { return "injected failure" }
