package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetd/internal/store"
	"github.com/roach88/fleetd/internal/target"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	Database string
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state <device-uuid>",
		Short: "Print a device's target state",
		Long: `Print the target state a device would receive from the API,
along with its ETag.

Example:
  fleetd state --db ./fleetd.db 3f2c...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runState(opts *StateOptions, uuid string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
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

	ctx := context.Background()
	var state target.State
	err = st.RunInTransaction(ctx, func(tx *store.Tx) error {
		var err error
		state, err = target.Build(ctx, tx, uuid)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		out.Error(fmt.Sprintf("device %s not found", uuid), nil)
		return NewExitError(ExitFailure, "device not found")
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build target state", err)
	}

	etag, err := state.ETag()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to hash target state", err)
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{"state": state, "etag": etag})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "device:     %s\n", state.Device)
	fmt.Fprintf(w, "commit:     %s\n", orNone(state.Commit))
	fmt.Fprintf(w, "supervisor: %s\n", orNone(state.Supervisor))
	fmt.Fprintf(w, "etag:       %s\n", etag)
	if len(state.Services) == 0 {
		fmt.Fprintln(w, "services:   (none)")
		return nil
	}
	fmt.Fprintln(w, "services:")
	for _, svc := range state.Services {
		fmt.Fprintf(w, "  %s  %s\n", svc.Name, svc.Digest)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
