package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/beesaferoot/gorm-tenancy/migration"
	"github.com/beesaferoot/gorm-tenancy/migration/file"
)

func CreateCmd(setup Setup) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new change-script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _ := cmd.Flags().GetString("set")

			ws, err := workspace(cmd, setup)
			if err != nil {
				return err
			}
			defer ws.close()
			if ws.ScriptsDir == "" {
				return fmt.Errorf("MIGRATIONS_PATH not set in environment or .env file")
			}
			dir, err := validateScriptsPath(ws.ScriptsDir)
			if err != nil {
				return err
			}

			path, err := file.CreateScript(dir, set, args[0], time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created change-script: %s\n", path)
			return nil
		},
	}

	cmd.Flags().String("set", migration.CoreSet, "Script set of the new script, e.g. core or modules/hr")
	return cmd
}
