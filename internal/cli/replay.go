package cli

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/standby/internal/config"
	"github.com/roach88/standby/internal/replay"
	"github.com/roach88/standby/internal/store"
	"github.com/roach88/standby/internal/waitlsn"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database   string
	ConfigPath string
	Drain      bool
	WaitFor    uint64
	TimeoutMS  int64
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run the replay engine over the record log",
		Long: `Run the replay engine over the record log.

Without --wait-for, the engine replays until interrupted (or until the log
is exhausted with --drain). With --wait-for, a waiter is registered for the
given LSN and the command reports how the wait episode resolved; a timeout
or an aborted wait exits with code 1.

Example:
  standby replay --db ./standby.db --drain
  standby replay --db ./standby.db --wait-for 5000 --timeout 2000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "stop when the log is exhausted")
	cmd.Flags().Uint64Var(&opts.WaitFor, "wait-for", 0, "wait until this LSN is replayed")
	cmd.Flags().Int64Var(&opts.TimeoutMS, "timeout", 0, "wait budget in milliseconds (<= 0 waits indefinitely)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	engOpts := []replay.EngineOption{
		replay.WithBatchSize(cfg.BatchSize),
		replay.WithPollInterval(cfg.PollInterval()),
	}
	if opts.Drain {
		engOpts = append(engOpts, replay.WithDrain())
	}
	eng := replay.New(st, replay.NopApplier{}, engOpts...)

	reg, err := waitlsn.NewRegistry(cfg.MaxWaiters, eng)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create wait registry", err)
	}
	eng.AddObserver(waitlsn.NewNotifier(reg))

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.WaitFor == 0 {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			return WrapExitError(ExitCommandError, "replay failed", err)
		}
		pos := eng.CurrentPosition()
		return out.Success(
			map[string]interface{}{"position": pos.String()},
			fmt.Sprintf("replay stopped at position %s", pos),
		)
	}

	// Run the engine in the background and wait for the target in the
	// foreground; the episode outcome is the command outcome.
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(ctx)
	}()

	waiter, err := reg.Waiter(0)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to acquire waiter slot", err)
	}

	// Don't race the engine goroutine's startup: a wait issued before the
	// engine marks itself active would be rejected as a precondition
	// failure. Bounded, because a drained engine may already be done - in
	// that case the waiter's own inactive-replay handling is the right
	// answer.
	startDeadline := time.Now().Add(time.Second)
	for !eng.Active() && ctx.Err() == nil && time.Now().Before(startDeadline) {
		time.Sleep(time.Millisecond)
	}

	waitErr := waiter.WaitUntilReplayed(ctx, waitlsn.LSN(opts.WaitFor), time.Duration(opts.TimeoutMS)*time.Millisecond)
	eng.Stop()
	if runErr := <-engineDone; runErr != nil && ctx.Err() == nil && waitErr == nil {
		return WrapExitError(ExitCommandError, "replay failed", runErr)
	}

	if waitErr != nil {
		_ = out.Failure(waitErr.Error())
		if waitlsn.IsPrecondition(waitErr) {
			return NewExitError(ExitCommandError, "wait rejected")
		}
		return NewExitError(ExitFailure, "wait did not complete")
	}

	pos := eng.CurrentPosition()
	return out.Success(
		map[string]interface{}{"position": pos.String(), "target": waitlsn.LSN(opts.WaitFor).String()},
		fmt.Sprintf("LSN %s replayed (position %s)", waitlsn.LSN(opts.WaitFor), pos),
	)
}
