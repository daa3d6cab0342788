package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/beesaferoot/gorm-tenancy/migration"
)

func HistoryCmd(setup Setup) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the migration ledger of a tenant store",
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

			records, err := migration.NewRunner(ws.Resolver, ws.Logger).History(cmd.Context(), db)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No change-scripts have been applied yet.")
				return nil
			}

			fmt.Fprintf(out, "%-6s  %-20s  %-50s  %-24s\n", "Batch", "Set", "Script", "Applied At")
			for _, record := range records {
				fmt.Fprintf(out, "%-6d  %-20s  %-50s  %-24s\n", record.Batch, record.Set, record.Name, record.AppliedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	addStoreFlags(cmd)
	return cmd
}
