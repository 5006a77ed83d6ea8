// Package scheduler serializes transaction bodies per database handle.
//
// Each registered handle owns a strict-FIFO queue of pending transactions
// and a single worker goroutine that admits one body at a time. Transactions
// against different handles run independently; transactions against the same
// handle never overlap.
//
// # Scheduling Model
//
// Submitting a transaction appends an entry to the handle's queue. The
// handle worker dequeues entries in submission order and drives each one
// through the full protocol:
//
//	BEGIN TRANSACTION -> body -> COMMIT (auto) | ROLLBACK (auto, on error)
//
// Completion bookkeeping (clearing the in-progress flag and admitting the
// next entry) runs unconditionally, even when the body, the commit, or the
// rollback itself failed.
//
// # Sync vs Async Bodies
//
// Transaction blocks the caller and propagates body and engine errors back
// to it after rolling back. TransactionAsync returns as soon as the entry is
// queued; a failing async body still rolls back, but the error is only
// logged and delivered on the returned channel - it is never raised at the
// submission point. The handle stays locked until an async body's entire
// statement chain has settled, not merely until the body function returns.
//
// # Invariants
//
//   - At most one live lock state exists per handle name.
//   - A handle's in-progress flag is true exactly while a body is executing
//     or finishing.
//   - Entries for one handle execute in strict submission order.
//   - A finalized transaction context permanently rejects further execution.
package scheduler
