package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/turnstile/internal/engine"
)

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	SessionOptions
	Async bool
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch <statement>...",
		Short: "Run statements sequentially without a transaction",
		Long: `Run the given statements in order against a handle, stopping at the
first failure. The statements are NOT wrapped in a transaction; use tx
for atomic scripts.

Example:
  turnstile batch --db ./app.db "DELETE FROM staging" "VACUUM"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts, args)
		},
	}

	registerSessionFlags(cmd, &opts.SessionOptions)
	cmd.Flags().BoolVar(&opts.Async, "async", false, "execute through the non-blocking path")

	return cmd
}

func runBatch(cmd *cobra.Command, opts *BatchOptions, statements []string) error {
	session, err := OpenSession(&opts.SessionOptions)
	if err != nil {
		return err
	}
	defer session.CloseAll()

	stmts := make([]engine.Statement, len(statements))
	for i, s := range statements {
		stmts[i] = engine.Statement{Query: s}
	}

	ctx := context.Background()

	var results []engine.Result
	if opts.Async {
		results, err = session.Engine.ExecBatchAsync(ctx, session.Handle, stmts).Wait(ctx)
	} else {
		results, err = session.Engine.ExecBatch(ctx, session.Handle, stmts)
	}
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("batch stopped after %d statement(s)", len(results)), err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Successf("ran %d statement(s) on %s", len(results), session.Handle)
}
