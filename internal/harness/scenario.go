package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a scheduling conformance scenario: handles to register
// and transactions to submit against them, with the expected engine call
// behavior expressed as assertions and/or a golden trace.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files use it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Handles lists the handle names to register before the flow runs.
	Handles []string `yaml:"handles"`

	// Transactions are submitted in declaration order. Sync transactions
	// settle before the next submission; async transactions are queued and
	// awaited after all submissions.
	Transactions []TxSpec `yaml:"transactions"`

	// ExpectCalls, when non-empty, is the exact expected call log as
	// "handle: query" lines.
	ExpectCalls []string `yaml:"expect_calls,omitempty"`
}

// TxSpec describes one transaction submission.
type TxSpec struct {
	// Handle names the target handle.
	Handle string `yaml:"handle"`

	// Mode is "sync" (default) or "async".
	Mode string `yaml:"mode,omitempty"`

	// Statements are executed in order through the transaction context.
	Statements []string `yaml:"statements"`

	// FailAfter, when set, makes the body return an injected error after
	// executing that many statements (0 = fail before any statement).
	FailAfter *int `yaml:"fail_after,omitempty"`

	// Finalize optionally finalizes explicitly instead of relying on the
	// scheduler: "commit" or "rollback". Empty leaves it to auto-commit.
	Finalize string `yaml:"finalize,omitempty"`

	// ExpectError marks submissions whose settlement error is expected.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}

	return &sc, nil
}

// Validate checks structural requirements before a scenario runs.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Handles) == 0 {
		return fmt.Errorf("at least one handle is required")
	}

	known := make(map[string]bool, len(s.Handles))
	for _, h := range s.Handles {
		if h == "" {
			return fmt.Errorf("handle names must be non-empty")
		}
		if known[h] {
			return fmt.Errorf("duplicate handle %q", h)
		}
		known[h] = true
	}

	for i, tx := range s.Transactions {
		if !known[tx.Handle] {
			return fmt.Errorf("transaction %d references unknown handle %q", i, tx.Handle)
		}
		switch tx.Mode {
		case "", ModeSync, ModeAsync:
		default:
			return fmt.Errorf("transaction %d: unsupported mode %q", i, tx.Mode)
		}
		switch tx.Finalize {
		case "", FinalizeCommit, FinalizeRollback:
		default:
			return fmt.Errorf("transaction %d: unsupported finalize %q", i, tx.Finalize)
		}
		if tx.FailAfter != nil && (*tx.FailAfter < 0 || *tx.FailAfter > len(tx.Statements)) {
			return fmt.Errorf("transaction %d: fail_after %d out of range", i, *tx.FailAfter)
		}
	}

	return nil
}

// Mode and finalize constants for TxSpec.
const (
	ModeSync  = "sync"
	ModeAsync = "async"

	FinalizeCommit   = "commit"
	FinalizeRollback = "rollback"
)
