package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func RollbackCmd(bootstrap Bootstrap) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback [tenant-id]",
		Short: "Drop a tenant's store and bindings and remove the tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown(a)

			outcome, err := a.Saga.Rollback(cmd.Context(), args[0], reason)
			if err != nil {
				return fmt.Errorf("rollback of tenant %s is %s: %w", args[0], outcome, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s: %s\n", args[0], outcome)
			return nil
		},
	}

	cmd.Flags().String("reason", "manual rollback", "Reason recorded in the failure log")
	return cmd
}
