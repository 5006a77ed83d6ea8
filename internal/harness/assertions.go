package harness

import (
	"fmt"
	"strings"
)

// AssertSerialized verifies that no two transactions' statements interleave
// on any handle: each handle's call log must be a sequence of well-formed
// segments BEGIN TRANSACTION ... (COMMIT | ROLLBACK), with no statement
// outside a segment and no nested BEGIN.
//
// Calls for different handles may interleave freely.
func AssertSerialized(calls []Call) error {
	open := make(map[string]bool)

	for _, c := range calls {
		switch c.Query {
		case "BEGIN TRANSACTION":
			if open[c.Handle] {
				return fmt.Errorf("call %d: BEGIN TRANSACTION on %q while a transaction is open", c.Seq, c.Handle)
			}
			open[c.Handle] = true

		case "COMMIT", "ROLLBACK":
			if !open[c.Handle] {
				return fmt.Errorf("call %d: %s on %q with no open transaction", c.Seq, c.Query, c.Handle)
			}
			open[c.Handle] = false

		default:
			if !open[c.Handle] {
				return fmt.Errorf("call %d: statement on %q outside a transaction: %s", c.Seq, c.Handle, c.Query)
			}
		}
	}

	for handle, isOpen := range open {
		if isOpen {
			return fmt.Errorf("handle %q: transaction left open at end of log", handle)
		}
	}

	return nil
}

// FormatCalls renders a call log as "handle: query" lines, the format
// scenarios use for expected call lists.
func FormatCalls(calls []Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Handle + ": " + c.Query
	}
	return out
}

// CheckExpected compares the call log against an expected "handle: query"
// list, failing on the first divergence.
func CheckExpected(calls []Call, expect []string) error {
	got := FormatCalls(calls)

	for i := 0; i < len(got) && i < len(expect); i++ {
		if got[i] != expect[i] {
			return fmt.Errorf("call %d: got %q, expected %q\nfull log:\n  %s",
				i+1, got[i], expect[i], strings.Join(got, "\n  "))
		}
	}
	if len(got) != len(expect) {
		return fmt.Errorf("call count: got %d, expected %d\nfull log:\n  %s",
			len(got), len(expect), strings.Join(got, "\n  "))
	}

	return nil
}

// HandleCalls filters a log down to one handle, preserving order.
func HandleCalls(calls []Call, handle string) []Call {
	var out []Call
	for _, c := range calls {
		if c.Handle == handle {
			out = append(out, c)
		}
	}
	return out
}
