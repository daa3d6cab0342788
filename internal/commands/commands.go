// Package commands holds the orchestrator's cobra commands.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beesaferoot/gorm-tenancy/internal/app"
	"github.com/beesaferoot/gorm-tenancy/internal/config"
	"github.com/beesaferoot/gorm-tenancy/internal/logger"
	migratecmd "github.com/beesaferoot/gorm-tenancy/migration/commands"
)

const serviceName = "tenancy"

// Bootstrap builds the app from the environment.
type Bootstrap func(ctx context.Context) (*app.App, error)

// FromEnv loads configuration, builds the logger and the app.
func FromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return app.New(ctx, cfg, log)
}

// MigrateCmd exposes the script commands against the configured stores.
func MigrateCmd(bootstrap Bootstrap) *cobra.Command {
	return migratecmd.MigrateCmd(func() (*migratecmd.Workspace, error) {
		a, err := bootstrap(context.Background())
		if err != nil {
			return nil, err
		}
		return &migratecmd.Workspace{
			Resolver:   a.Resolver,
			Loaders:    a.Loaders,
			OpenStore:  a.OpenStore,
			ScriptsDir: a.Config.MigrationsPath,
			Logger:     a.Logger,
			Close:      a.Close,
		}, nil
	})
}

func shutdown(a *app.App) {
	_ = a.Logger.Sync()
	if err := a.Close(); err != nil {
		a.Logger.Warn("failed to close connections", zap.Error(err))
	}
}
