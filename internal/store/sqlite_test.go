package store

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beesaferoot/gorm-tenancy/internal/provision"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

func TestNameFor(t *testing.T) {
	assert.Equal(t, "tenant_acme", NameFor("acme"))
	assert.Equal(t, "tenant_acme_corp", NameFor("acme-corp"))

	// "tenant_" plus 56 characters is exactly the limit
	fits := strings.Repeat("b", MaxNameLength-len("tenant_"))
	assert.Equal(t, "tenant_"+fits, NameFor(fits))

	long := strings.Repeat("a", 63)
	name := NameFor(long)
	assert.Len(t, name, MaxNameLength)
	assert.Equal(t, name, NameFor(long), "names are deterministic")

	// same first 56 characters, different tails
	other := strings.Repeat("a", 62) + "b"
	assert.Len(t, NameFor(other), MaxNameLength)
	assert.NotEqual(t, name, NameFor(other))
}

func TestSQLiteProvisioner_UnmarkedStoreClaimedByTenantIsAdopted(t *testing.T) {
	p := NewSQLiteProvisioner(t.TempDir(), nil)
	ctx := context.Background()
	// a previous attempt claimed the name and stopped before marking the store
	require.NoError(t, os.WriteFile(p.path("tenant_acme"), nil, 0644))
	acme := &tenant.Tenant{ID: "t-1", Subdomain: "acme", StoreName: "tenant_acme"}

	name, err := p.CreateStore(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme", name)

	owner, err := p.readOwner(ctx, p.path(name))
	require.NoError(t, err)
	assert.Equal(t, ownerMarker("t-1"), owner)

	// anyone else still collides
	_, err = p.CreateStore(ctx, &tenant.Tenant{ID: "t-2", Subdomain: "acme", StoreName: "tenant_acme"})
	assert.True(t, provision.IsKind(err, provision.KindNameCollision))
}

func TestSQLiteProvisioner_CreatedStoreIsAlwaysMarked(t *testing.T) {
	dir := t.TempDir()
	p := NewSQLiteProvisioner(dir, nil)
	ctx := context.Background()

	name, err := p.CreateStore(ctx, &tenant.Tenant{ID: "t-1", Subdomain: "acme"})
	require.NoError(t, err)

	owner, err := p.readOwner(ctx, p.path(name))
	require.NoError(t, err)
	assert.Equal(t, ownerMarker("t-1"), owner)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files are left behind")
	assert.Equal(t, "tenant_acme.db", entries[0].Name())
}

func TestSQLiteProvisioner_CreateIsIdempotentForOwner(t *testing.T) {
	p := NewSQLiteProvisioner(t.TempDir(), nil)
	ctx := context.Background()
	acme := &tenant.Tenant{ID: "t-1", Subdomain: "acme"}

	name, err := p.CreateStore(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme", name)
	assert.True(t, p.Exists(name))

	again, err := p.CreateStore(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, name, again)
}

func TestSQLiteProvisioner_CollisionLeavesStoreUntouched(t *testing.T) {
	p := NewSQLiteProvisioner(t.TempDir(), nil)
	ctx := context.Background()

	name, err := p.CreateStore(ctx, &tenant.Tenant{ID: "owner", Subdomain: "acme"})
	require.NoError(t, err)

	handle, err := p.Open(ctx, name)
	require.NoError(t, err)
	require.NoError(t, handle.DB.Exec("CREATE TABLE invoices (id INTEGER PRIMARY KEY)").Error)
	require.NoError(t, handle.DB.Exec("INSERT INTO invoices (id) VALUES (1)").Error)
	require.NoError(t, handle.Close())

	_, err = p.CreateStore(ctx, &tenant.Tenant{ID: "intruder", Subdomain: "acme"})
	require.Error(t, err)
	assert.True(t, provision.IsKind(err, provision.KindNameCollision))

	handle, err = p.Open(ctx, name)
	require.NoError(t, err)
	defer handle.Close()
	var count int64
	require.NoError(t, handle.DB.Raw("SELECT count(*) FROM invoices").Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteProvisioner_UnmarkedStoreIsACollision(t *testing.T) {
	dir := t.TempDir()
	p := NewSQLiteProvisioner(dir, nil)
	require.NoError(t, os.WriteFile(p.path("tenant_acme"), nil, 0644))

	_, err := p.CreateStore(context.Background(), &tenant.Tenant{ID: "t-1", Subdomain: "acme"})
	assert.True(t, provision.IsKind(err, provision.KindNameCollision))
}

func TestSQLiteProvisioner_Drop(t *testing.T) {
	p := NewSQLiteProvisioner(t.TempDir(), nil)
	ctx := context.Background()

	name, err := p.CreateStore(ctx, &tenant.Tenant{ID: "t-1", Subdomain: "acme"})
	require.NoError(t, err)

	require.NoError(t, p.DropStore(ctx, name))
	assert.False(t, p.Exists(name))

	// already absent
	require.NoError(t, p.DropStore(ctx, name))

	_, err = p.Open(ctx, name)
	assert.Error(t, err)
}
