package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beesaferoot/gorm-tenancy/migration"
	"github.com/beesaferoot/gorm-tenancy/migration/file"
)

// Workspace is what the migrate commands operate on.
type Workspace struct {
	// Resolver finds script sets, usually a chain of file loaders.
	Resolver migration.ScriptSetResolver
	// Loaders are checked by validate and switched to debug output by --debug.
	Loaders []*file.Loader
	// OpenStore opens a tenant store by name. The returned func releases it.
	OpenStore func(ctx context.Context, name string) (*gorm.DB, func() error, error)
	// ScriptsDir is where create writes new scripts.
	ScriptsDir string
	Logger     *zap.Logger
	// Close, if set, releases whatever Setup opened.
	Close func() error
}

func (ws *Workspace) close() {
	if ws.Close != nil {
		_ = ws.Close()
	}
}

// Setup builds the workspace when a command runs, so that --help works without
// any configuration.
type Setup func() (*Workspace, error)

func workspace(cmd *cobra.Command, setup Setup) (*Workspace, error) {
	ws, err := setup()
	if err != nil {
		return nil, err
	}
	if ws.Logger == nil {
		ws.Logger = zap.NewNop()
	}
	debug, _ := cmd.Flags().GetBool("debug")
	for _, loader := range ws.Loaders {
		loader.SetDebug(debug)
	}
	return ws, nil
}

// openStore opens the store named by --store.
func openStore(cmd *cobra.Command, ws *Workspace) (*gorm.DB, func() error, error) {
	name, _ := cmd.Flags().GetString("store")
	if name == "" {
		return nil, nil, fmt.Errorf("--store is required")
	}
	db, release, err := ws.OpenStore(cmd.Context(), name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store %s: %w", name, err)
	}
	return db, release, nil
}

// scriptSets returns the ordered sets for the modules named by --modules.
func scriptSets(cmd *cobra.Command) []string {
	modules, _ := cmd.Flags().GetStringSlice("modules")
	return migration.SetsFor(modules)
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "", "Name of the tenant store")
	cmd.Flags().StringSlice("modules", nil, "Module codes whose script sets apply, e.g. hr,inventory")
	cmd.Flags().Bool("debug", false, "Enable debug output")
}

func validateScriptsPath(path string) (string, error) {
	cleanPath := filepath.Clean(path)

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return "", fmt.Errorf("invalid scripts path: %w", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	if !strings.HasPrefix(absPath, wd) {
		return "", fmt.Errorf("scripts path must be within working directory")
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return "", fmt.Errorf("scripts path is not writable: %w", err)
	}

	return absPath, nil
}

func release(cmd *cobra.Command, closeFn func() error) {
	if closeFn == nil {
		return
	}
	if err := closeFn(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close store: %v\n", err)
	}
}
