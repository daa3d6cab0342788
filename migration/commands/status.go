package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beesaferoot/gorm-tenancy/migration"
)

func StatusCmd(setup Setup) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of the change-scripts of a tenant store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspace(cmd, setup)
			if err != nil {
				return err
			}
			defer ws.close()
			db, closeFn, err := openStore(cmd, ws)
			if err != nil {
				return err
			}
			defer release(cmd, closeFn)

			runner := migration.NewRunner(ws.Resolver, ws.Logger)
			statuses, err := runner.Status(cmd.Context(), db, scriptSets(cmd))
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-20s  %-50s  %-8s\n", "Set", "Script", "Status")
			for _, s := range statuses {
				status := "Pending"
				if s.Applied {
					status = fmt.Sprintf("Applied (batch %d)", s.Batch)
				}
				fmt.Fprintf(out, "%-20s  %-50s  %-8s\n", s.Set, s.ID, status)
			}
			return nil
		},
	}

	addStoreFlags(cmd)
	return cmd
}
