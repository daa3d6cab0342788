package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/beesaferoot/gorm-tenancy/internal/commands"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "tenancy",
		Short:        "Tenant provisioning orchestrator",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		commands.ServeCmd(commands.FromEnv),
		commands.ProvisionCmd(commands.FromEnv),
		commands.RollbackCmd(commands.FromEnv),
		commands.MigrateCmd(commands.FromEnv),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
