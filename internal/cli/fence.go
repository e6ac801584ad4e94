package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/geoshift/geoshift/internal/geo"
	"github.com/geoshift/geoshift/internal/store"
)

// FenceOptions holds shared flags for the fence subcommands.
type FenceOptions struct {
	*RootOptions
	Database string
	User     string
}

// NewFenceCommand creates the fence command group for direct database
// administration. The daemon picks the change up through its fence-refresh
// endpoint; offline edits are seen at the next boot.
func NewFenceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FenceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fence",
		Short: "Manage geofences in the database",
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite database path (required)")
	cmd.PersistentFlags().StringVar(&opts.User, "user", "", "user the fences belong to (required)")
	_ = cmd.MarkPersistentFlagRequired("db")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(newFenceAddCommand(opts))
	cmd.AddCommand(newFenceListCommand(opts))
	cmd.AddCommand(newFenceRemoveCommand(opts))

	return cmd
}

func newFenceAddCommand(opts *FenceOptions) *cobra.Command {
	var (
		name   string
		lat    float64
		lng    float64
		radius float64
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a geofence",
		Long: `Add a geofence for a user.

The fence is rejected if it would overlap another active fence of the same
user; overlapping fences would make "which site is the user at" ambiguous.

Example:
  geoshift fence add --db ./geoshift.db --user worker-1 \
    --name "Berlin Depot" --lat 52.5200 --lng 13.4050 --radius 200`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer st.Close()

			id, err := st.CreateFence(cmd.Context(), opts.User, geo.Fence{
				Name:         name,
				Lat:          lat,
				Lng:          lng,
				RadiusMeters: radius,
				Active:       true,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create fence", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(map[string]string{"id": id})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "fence display name (required)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "center latitude (required)")
	cmd.Flags().Float64Var(&lng, "lng", 0, "center longitude (required)")
	cmd.Flags().Float64Var(&radius, "radius", 200, "radius in meters")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")

	return cmd
}

func newFenceListCommand(opts *FenceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List active geofences",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer st.Close()

			fences, err := st.ListActiveFences(cmd.Context(), opts.User)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list fences", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if opts.Format == "json" {
				return out.Success(fences)
			}
			if len(fences) == 0 {
				return out.Text("no active fences\n")
			}
			var b strings.Builder
			for _, f := range fences {
				fmt.Fprintf(&b, "%s  %-20s  lat=%.5f lng=%.5f radius=%.0fm\n",
					f.ID, f.Name, f.Lat, f.Lng, f.RadiusMeters)
			}
			return out.Text(b.String())
		},
	}
}

func newFenceRemoveCommand(opts *FenceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rm <fence-id>",
		Short:         "Remove a geofence",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer st.Close()

			if err := st.DeleteFence(cmd.Context(), opts.User, args[0]); err != nil {
				return WrapExitError(ExitCommandError, "failed to remove fence", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(map[string]string{"removed": args[0]})
		},
	}
}
