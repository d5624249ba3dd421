package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/standby/internal/store"
	"github.com/roach88/standby/internal/waitlsn"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Database string
	Count    int
	Start    uint64
	Kind     string
}

// NewAppendCommand creates the append command. It seeds synthetic records
// into the log, mainly for demos and local testing of the replay pipeline.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append synthetic records to the log",
		Long: `Append synthetic records to the record log.

LSNs are assigned sequentially starting after the current maximum (or from
--start when given). Re-appending an existing LSN is a no-op.

Example:
  standby append --db ./standby.db --count 100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.Count, "count", 1, "number of records to append")
	cmd.Flags().Uint64Var(&opts.Start, "start", 0, "first LSN to assign (default: after current maximum)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "synthetic", "record kind label")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runAppend(opts *AppendOptions, cmd *cobra.Command) error {
	if opts.Count <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("count must be positive, got %d", opts.Count))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	next := waitlsn.LSN(opts.Start)
	if next == waitlsn.InvalidLSN {
		max, err := st.MaxLSN(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read log position", err)
		}
		next = max + 1
	}

	for i := 0; i < opts.Count; i++ {
		rec := store.Record{LSN: next, Kind: opts.Kind}
		if err := st.Append(ctx, rec); err != nil {
			return WrapExitError(ExitCommandError, "failed to append record", err)
		}
		next++
	}
	last := next - 1

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(
		map[string]interface{}{"appended": opts.Count, "last_lsn": last.String()},
		fmt.Sprintf("appended %d records, last LSN %s", opts.Count, last),
	)
}
