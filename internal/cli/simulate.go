package cli

import (
	"github.com/spf13/cobra"

	"github.com/geoshift/geoshift/internal/harness"
)

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a geofence scenario on a manual clock",
		Long: `Run a deterministic geofence scenario and print the transcript.

The scenario file lays out fences and a sequence of signals, decisions,
position moves and clock advances. The whole run executes on a manual
clock against in-memory state; nothing touches the database.

Example:
  geoshift simulate ./scenarios/entry_timeout.yaml
  geoshift simulate ./scenarios/pause_auto_stop.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, rootOpts, args[0])
		},
	}

	return cmd
}

func runSimulate(cmd *cobra.Command, opts *RootOptions, path string) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return WrapExitError(ExitFailure, "scenario failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Text(string(result.Transcript))
}
