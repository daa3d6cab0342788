package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beesaferoot/gorm-tenancy/internal/app"
	"github.com/beesaferoot/gorm-tenancy/internal/config"
	"github.com/beesaferoot/gorm-tenancy/internal/saga"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

// testBootstrap builds a fresh app over the same sqlite files on every call, the way
// separate CLI invocations would.
func testBootstrap(t *testing.T) Bootstrap {
	dir := t.TempDir()
	cfg := &config.Config{
		Env:             "test",
		DatabaseURL:     filepath.Join(dir, "platform.db"),
		DBDriver:        "sqlite",
		StoreDriver:     "sqlite",
		StoreDir:        filepath.Join(dir, "stores"),
		Workers:         1,
		BaseDomain:      "example.com",
		ShutdownTimeout: time.Second,
	}
	return func(ctx context.Context) (*app.App, error) {
		return app.New(ctx, cfg, nil)
	}
}

func run(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func createTenant(t *testing.T, bootstrap Bootstrap, subdomain string) string {
	a, err := bootstrap(context.Background())
	require.NoError(t, err)
	defer a.Close()
	id, err := a.Registry.Create(context.Background(), &tenant.Tenant{Name: "Acme", Email: subdomain + "@example.com", Subdomain: subdomain, PlanCode: "professional"})
	require.NoError(t, err)
	return id
}

func TestCommandMetadata(t *testing.T) {
	bootstrap := testBootstrap(t)
	for _, cmd := range []*cobra.Command{ServeCmd(bootstrap), ProvisionCmd(bootstrap), RollbackCmd(bootstrap), MigrateCmd(bootstrap)} {
		assert.NotEmpty(t, cmd.Use)
		assert.NotEmpty(t, cmd.Short)
	}
	assert.NotNil(t, RollbackCmd(bootstrap).Flags().Lookup("reason"))
}

func TestProvisionThenMigrateStatus(t *testing.T) {
	bootstrap := testBootstrap(t)
	id := createTenant(t, bootstrap, "acme")

	out, err := run(ProvisionCmd(bootstrap), id)
	require.NoError(t, err)
	assert.Contains(t, out, "is active (store tenant_acme)")

	out, err = run(MigrateCmd(bootstrap), "status", "--store", "tenant_acme", "--modules", "hr")
	require.NoError(t, err)
	assert.Contains(t, out, "20240201000002_create_leave_requests_table")
	assert.NotContains(t, out, "Pending")

	out, err = run(MigrateCmd(bootstrap), "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "All change-scripts are valid")
}

func TestProvisionUnknownTenant(t *testing.T) {
	_, err := run(ProvisionCmd(testBootstrap(t)), "missing")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestRollbackCmd(t *testing.T) {
	bootstrap := testBootstrap(t)
	id := createTenant(t, bootstrap, "acme")

	out, err := run(RollbackCmd(bootstrap), id, "--reason", "customer cancelled")
	require.NoError(t, err)
	assert.Contains(t, out, string(saga.OutcomeRolledBack))

	out, err = run(RollbackCmd(bootstrap), id)
	require.NoError(t, err)
	assert.Contains(t, out, string(saga.OutcomeAbsent))

	a, err := bootstrap(context.Background())
	require.NoError(t, err)
	defer a.Close()
	var records []tenant.FailureRecord
	require.NoError(t, a.DB.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, "customer cancelled", records[0].Reason)
}
