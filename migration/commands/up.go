package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beesaferoot/gorm-tenancy/migration"
)

func UpCmd(setup Setup) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending change-scripts to a tenant store",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")

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
			out := cmd.OutOrStdout()

			if dryRun {
				statuses, err := runner.Status(cmd.Context(), db, scriptSets(cmd))
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				var pending int
				for _, s := range statuses {
					if !s.Applied {
						if pending == 0 {
							fmt.Fprintln(out, "Pending change-scripts:")
						}
						pending++
						fmt.Fprintf(out, "- %s (%s)\n", s.ID, s.Set)
					}
				}
				if pending == 0 {
					fmt.Fprintln(out, "No pending change-scripts.")
				}
				return nil
			}

			report, err := runner.Apply(cmd.Context(), db, scriptSets(cmd))
			if report != nil {
				for _, name := range report.Applied {
					fmt.Fprintf(out, "Applied change-script: %s\n", name)
				}
			}
			if err != nil {
				return err
			}
			if len(report.Applied) == 0 {
				fmt.Fprintln(out, "No pending change-scripts.")
				return nil
			}
			fmt.Fprintf(out, "Batch %d: %d applied, %d already in the ledger\n", report.Batch, len(report.Applied), report.Skipped)
			return nil
		},
	}

	addStoreFlags(cmd)
	cmd.Flags().Bool("dry-run", false, "Show pending change-scripts without executing them")
	return cmd
}
