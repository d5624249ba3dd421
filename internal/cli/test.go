package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/standby/internal/scenario"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml...>",
		Short: "Run wait scenarios",
		Long: `Run declarative wait scenarios and report each waiter's outcome.

Every scenario file is executed against a fresh registry. The command exits
with code 1 if any waiter misses its expected outcome.

Example:
  standby test scenarios/basic.yaml scenarios/shutdown.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	return cmd
}

func runScenarios(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	type scenarioResult struct {
		Name     string   `json:"name"`
		Passed   bool     `json:"passed"`
		Failures []string `json:"failures,omitempty"`
	}

	var (
		results []scenarioResult
		failed  int
	)
	for _, path := range paths {
		sc, err := scenario.Load(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load scenario", err)
		}

		res, err := scenario.Run(cmd.Context(), sc)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s did not run", sc.Name), err)
		}

		results = append(results, scenarioResult{Name: sc.Name, Passed: res.Passed(), Failures: res.Failures})
		if !res.Passed() {
			failed++
		}
	}

	if opts.Format == "json" {
		if err := out.Success(results, ""); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Passed {
				fmt.Fprintf(cmd.OutOrStdout(), "PASS %s\n", r.Name)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s\n", r.Name)
			for _, f := range r.Failures {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d scenarios, %d failed\n", len(results), failed)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", failed, len(results)))
	}
	return nil
}
