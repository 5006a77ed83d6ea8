package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/turnstile/internal/engine"
	"github.com/roach88/turnstile/internal/scheduler"
)

// TxOptions holds flags for the tx command.
type TxOptions struct {
	*RootOptions
	SessionOptions
}

// NewTxCommand creates the tx command.
func NewTxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tx <script.sql>",
		Short: "Run a SQL script as one scheduled transaction",
		Long: `Run every statement in a SQL script inside a single transaction,
admitted through the per-handle scheduler.

If any statement fails the transaction is rolled back and the command
exits non-zero; otherwise it is committed.

Example:
  turnstile tx --db ./app.db ./migrate.sql`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTx(cmd, opts, args[0])
		},
	}

	registerSessionFlags(cmd, &opts.SessionOptions)

	return cmd
}

func runTx(cmd *cobra.Command, opts *TxOptions, scriptPath string) error {
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "read script", err)
	}

	statements := engine.SplitStatements(string(script))
	if len(statements) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no statements in %s", scriptPath))
	}

	session, err := OpenSession(&opts.SessionOptions)
	if err != nil {
		return err
	}
	defer session.CloseAll()

	executed := 0
	err = session.Scheduler.Transaction(context.Background(), session.Handle, func(tx *scheduler.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
			executed++
		}
		return nil
	})
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("transaction rolled back after %d statement(s)", executed), err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Successf("committed %d statement(s) on %s", executed, session.Handle)
}
