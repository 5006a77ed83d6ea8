package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/turnstile/internal/engine"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	SessionOptions
	Async bool
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <statement>",
		Short: "Run a single non-transactional statement",
		Long: `Run one SQL statement against a handle, outside any transaction.

The statement is forwarded straight to the engine facade; the transaction
queue is not involved.

Example:
  turnstile exec --db ./app.db "SELECT * FROM users"
  turnstile exec --config ./turnstile.cue --handle db1 "INSERT INTO t VALUES (1)"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, opts, args[0])
		},
	}

	registerSessionFlags(cmd, &opts.SessionOptions)
	cmd.Flags().BoolVar(&opts.Async, "async", false, "execute through the non-blocking path")

	return cmd
}

func runExec(cmd *cobra.Command, opts *ExecOptions, statement string) error {
	session, err := OpenSession(&opts.SessionOptions)
	if err != nil {
		return err
	}
	defer session.CloseAll()

	ctx := context.Background()

	var res engine.Result
	if opts.Async {
		res, err = session.Engine.ExecAsync(ctx, session.Handle, statement).Wait(ctx)
	} else {
		res, err = session.Engine.Exec(ctx, session.Handle, statement)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "statement failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Success(resultPayload(res))
	}
	return out.Successf("%s", renderResult(res))
}

// resultPayload shapes a Result for JSON output.
func resultPayload(res engine.Result) map[string]any {
	if res.Rows != nil {
		return map[string]any{
			"columns": res.Rows.Columns,
			"rows":    res.Rows.Values,
		}
	}
	return map[string]any{
		"last_insert_id": res.LastInsertID,
		"rows_affected":  res.RowsAffected,
	}
}

// renderResult shapes a Result for text output.
func renderResult(res engine.Result) string {
	if res.Rows == nil {
		return fmt.Sprintf("ok (last_insert_id=%d rows_affected=%d)", res.LastInsertID, res.RowsAffected)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", strings.Join(res.Rows.Columns, " | "))
	for _, row := range res.Rows.Values {
		vals := make([]string, len(res.Rows.Columns))
		for i, col := range res.Rows.Columns {
			vals[i] = fmt.Sprintf("%v", row[col])
		}
		fmt.Fprintf(&b, "%s\n", strings.Join(vals, " | "))
	}
	fmt.Fprintf(&b, "(%d row(s))", res.Rows.Len())
	return b.String()
}
