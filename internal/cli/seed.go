package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetd/internal/manifest"
	"github.com/roach88/fleetd/internal/model"
	"github.com/roach88/fleetd/internal/reconciler"
	"github.com/roach88/fleetd/internal/store"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Database string
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <manifest.yaml>",
		Short: "Apply a fleet manifest to the database",
		Long: `Apply a fleet manifest to the database.

The manifest is validated, then applied through the same mutation path
live requests take: release pins cascade into service installs for the
seeded devices.

Example:
  fleetd seed --db ./fleetd.db ./fleet.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSeed(opts *SeedOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := manifest.Load(path)
	if err != nil {
		out.Error(err.Error(), nil)
		return WrapExitError(ExitFailure, "manifest rejected", err)
	}
	out.VerboseLog("manifest loaded: %d applications, %d devices", len(m.Applications), len(m.Devices))

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// Hooks make seeded pins cascade into installs; no notifier, the
	// control plane learns about seeded devices when they first poll.
	reconciler.New(nil).RegisterHooks(st)

	if err := manifest.Apply(context.Background(), st, model.RootActor, m); err != nil {
		out.Error(err.Error(), nil)
		return WrapExitError(ExitFailure, "apply failed", err)
	}

	return out.Success(fmt.Sprintf("applied %s: %d applications, %d devices",
		path, len(m.Applications), len(m.Devices)))
}
