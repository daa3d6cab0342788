// Package store creates, opens and drops the isolated data store of each tenant.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

// Provisioner manages tenant stores. CreateStore is idempotent for the tenant that
// owns the store and fails with a NameCollision for anyone else; DropStore treats an
// absent store as already dropped. An existing store without an owner marker belongs
// to the tenant whose persisted StoreName matches it.
type Provisioner interface {
	CreateStore(ctx context.Context, t *tenant.Tenant) (string, error)
	DropStore(ctx context.Context, name string) error
	Open(ctx context.Context, name string) (*Handle, error)
}

// Handle is an open connection to one tenant store. Callers must Close it.
type Handle struct {
	Name string
	DB   *gorm.DB
}

func (h *Handle) Close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get store connection: %w", err)
	}
	return sqlDB.Close()
}

// MaxNameLength is the postgres identifier limit; longer names are truncated by the
// server.
const MaxNameLength = 63

// NameFor derives the store name of a tenant from its subdomain. Names that would
// exceed MaxNameLength are cut and suffixed with a hash of the full subdomain.
func NameFor(subdomain string) string {
	name := "tenant_" + strings.ReplaceAll(subdomain, "-", "_")
	if len(name) <= MaxNameLength {
		return name
	}
	sum := sha256.Sum256([]byte(subdomain))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	return name[:MaxNameLength-len(suffix)] + suffix
}

// adoptable reports whether an unmarked store named name was claimed by t.
func adoptable(t *tenant.Tenant, name string) bool {
	return t.StoreName != "" && t.StoreName == name
}

// ownerMarker identifies the tenant that created a store.
func ownerMarker(tenantID string) string {
	return "tenant:" + tenantID
}
