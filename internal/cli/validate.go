package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetd/internal/manifest"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "validate <manifest.yaml>",
		Short:         "Validate a fleet manifest without applying it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := manifest.Load(path)
	if err != nil {
		out.Error(err.Error(), nil)
		return WrapExitError(ExitFailure, "manifest invalid", err)
	}

	return out.Success(fmt.Sprintf("%s is valid: %d applications, %d devices",
		path, len(m.Applications), len(m.Devices)))
}
