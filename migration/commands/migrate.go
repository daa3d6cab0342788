// Package commands holds the cobra commands that manage the change-scripts of tenant
// stores.
package commands

import "github.com/spf13/cobra"

// MigrateCmd groups the script commands under "migrate".
func MigrateCmd(setup Setup) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage change-scripts of tenant stores",
	}
	cmd.AddCommand(
		UpCmd(setup),
		DownCmd(setup),
		StatusCmd(setup),
		HistoryCmd(setup),
		ValidateCmd(setup),
		CreateCmd(setup),
	)
	return cmd
}
