package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beesaferoot/gorm-tenancy/internal/config"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
	"github.com/beesaferoot/gorm-tenancy/migration"
)

type recordingEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Env:             "test",
		DatabaseURL:     filepath.Join(dir, "platform.db"),
		DBDriver:        "sqlite",
		StoreDriver:     "sqlite",
		StoreDir:        filepath.Join(dir, "stores"),
		Workers:         1,
		BaseDomain:      "example.com",
		SupportEmail:    "help@example.com",
		ShutdownTimeout: time.Second,
	}
}

func newApp(t *testing.T) *App {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_ProvisionsWithEmbeddedScripts(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	id, err := a.Registry.Create(ctx, &tenant.Tenant{Name: "Acme", Email: "owner@acme.io", Subdomain: "acme", PlanCode: "enterprise"})
	require.NoError(t, err)
	require.NoError(t, a.Saga.Provision(ctx, id))

	got, err := a.Registry.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusActive, got.Status)

	db, closeFn, err := a.OpenStore(ctx, got.StoreName)
	require.NoError(t, err)
	defer closeFn()

	var applied int64
	require.NoError(t, db.Model(&migration.MigrationRecord{}).Count(&applied).Error)
	assert.Equal(t, int64(7), applied)
	assert.True(t, db.Migrator().HasTable("items"))
}

func TestResume(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	pending, err := a.Registry.Create(ctx, &tenant.Tenant{Name: "A", Email: "a@a.io", Subdomain: "acme"})
	require.NoError(t, err)
	stuck, err := a.Registry.Create(ctx, &tenant.Tenant{Name: "G", Email: "g@g.io", Subdomain: "globex"})
	require.NoError(t, err)
	require.NoError(t, a.Registry.SetStatus(ctx, stuck, tenant.StatusProvisioning))
	failed, err := a.Registry.Create(ctx, &tenant.Tenant{Name: "I", Email: "i@i.io", Subdomain: "initech"})
	require.NoError(t, err)
	require.NoError(t, a.Registry.MarkFailed(ctx, failed, "boom"))

	q := &recordingEnqueuer{}
	n, err := a.Resume(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{pending, stuck}, q.ids)
}

func TestScriptOverrides(t *testing.T) {
	cfg := testConfig(t)
	cfg.MigrationsPath = t.TempDir()
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Len(t, a.Loaders, 2)
	set, ok, err := a.Resolver.Resolve(context.Background(), migration.CoreSet)
	require.NoError(t, err)
	require.True(t, ok, "an empty override directory falls through to the embedded scripts")
	assert.Len(t, set.Migrations, 4)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPPort = "0"
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
