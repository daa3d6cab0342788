package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beesaferoot/gorm-tenancy/migration"
)

func DownCmd(setup Setup) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recent batch of a tenant store",
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
			reverted, err := runner.Down(cmd.Context(), db, scriptSets(cmd))
			out := cmd.OutOrStdout()
			for _, name := range reverted {
				fmt.Fprintf(out, "Reverted change-script: %s\n", name)
			}
			if err != nil {
				return err
			}
			if len(reverted) == 0 {
				fmt.Fprintln(out, "No change-scripts to revert.")
			}
			return nil
		},
	}

	addStoreFlags(cmd)
	return cmd
}
