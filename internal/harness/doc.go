// Package harness executes YAML-defined scheduling scenarios against a
// recording engine facade and validates the resulting engine call log.
//
// A scenario declares handles to register and a list of transactions to
// submit (sync or async, with optional failure injection). The harness runs
// them through a real scheduler wired to a Recorder instead of SQLite, so
// the ordered call log captures exactly what the engine would have seen:
// BEGIN TRANSACTION, caller statements, COMMIT/ROLLBACK.
//
// Three validation styles are offered:
//   - structural: AssertSerialized checks that no two transactions'
//     statements interleave on any handle
//   - explicit: scenario-level expected call lists
//   - golden: byte-exact trace comparison via goldie
//     (go test ./internal/harness -update regenerates golden files)
package harness
