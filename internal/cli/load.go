package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/turnstile/internal/engine"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	SessionOptions
	Async bool
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <file.sql>",
		Short: "Bulk-load a SQL command file",
		Long: `Split a SQL command file into statements and run them in order against
a handle. Pass-through to the engine's load-file primitive; statements
are not wrapped in a transaction.

Example:
  turnstile load --db ./app.db ./seed.sql`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts, args[0])
		},
	}

	registerSessionFlags(cmd, &opts.SessionOptions)
	cmd.Flags().BoolVar(&opts.Async, "async", false, "execute through the non-blocking path")

	return cmd
}

func runLoad(cmd *cobra.Command, opts *LoadOptions, path string) error {
	session, err := OpenSession(&opts.SessionOptions)
	if err != nil {
		return err
	}
	defer session.CloseAll()

	ctx := context.Background()

	var results []engine.Result
	if opts.Async {
		results, err = session.Engine.LoadFileAsync(ctx, session.Handle, path).Wait(ctx)
	} else {
		results, err = session.Engine.LoadFile(ctx, session.Handle, path)
	}
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("load stopped after %d statement(s)", len(results)), err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Successf("loaded %d statement(s) into %s", len(results), session.Handle)
}
