package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func ValidateCmd(setup Setup) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate all change-scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspace(cmd, setup)
			if err != nil {
				return err
			}
			defer ws.close()

			var errs error
			count := 0
			for _, loader := range ws.Loaders {
				sets, err := loader.Sets()
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				count += len(sets)
				errs = multierr.Append(errs, loader.Validate(sets))
			}
			if errs != nil {
				for _, e := range multierr.Errors(errs) {
					fmt.Fprintf(cmd.ErrOrStderr(), "- %v\n", e)
				}
				return fmt.Errorf("validation failed: %d problem(s)", len(multierr.Errors(errs)))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "All change-scripts are valid (%d sets)\n", count)
			return nil
		},
	}

	cmd.Flags().Bool("debug", false, "Enable debug output")
	return cmd
}
