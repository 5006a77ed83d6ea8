// Package engine provides the SQLite-backed engine facade for Turnstile.
//
// The facade owns one *sql.DB per opened handle name and exposes the
// primitives the transaction scheduler coordinates:
//   - Lifecycle: Open, Close, Delete
//   - Side-channel: Attach, Detach (never routed through the transaction queue)
//   - Execution: Exec (blocking), ExecAsync (future-returning)
//   - Bulk: ExecBatch, ExecBatchAsync, LoadFile, LoadFileAsync
//
// # Concurrency Contract
//
// The facade is NOT reentrant-safe per handle: two goroutines must not issue
// statements against the same handle concurrently. Serialization is the
// caller's job - in production that caller is the scheduler, which admits one
// transaction body per handle at a time. ExecAsync preserves the contract by
// funneling all asynchronous statements for a handle through a single
// dispatch goroutine in submission order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - MaxOpenConns(1): Single connection, so BEGIN/COMMIT/ROLLBACK issued as
//     plain statements all hit the same SQLite session
package engine
