package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beesaferoot/gorm-tenancy/internal/queue"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

func ProvisionCmd(bootstrap Bootstrap) *cobra.Command {
	return &cobra.Command{
		Use:   "provision [tenant-id]",
		Short: "Provision a tenant synchronously, rolling back on failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown(a)

			id := args[0]
			if err := a.Saga.Provision(cmd.Context(), id); err != nil {
				if queue.IsPermanent(err) {
					return fmt.Errorf("tenant %s was not provisioned: %w", id, err)
				}
				return fmt.Errorf("provisioning of tenant %s failed: %w", id, err)
			}

			t, err := a.Registry.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if t.Status != tenant.StatusActive {
				return fmt.Errorf("tenant %s is %s", id, t.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s is active (store %s)\n", id, t.StoreName)
			return nil
		},
	}
}
