package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/beesaferoot/gorm-tenancy/internal/provision"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

// storeOwner is the single-row table marking which tenant created a SQLite store.
type storeOwner struct {
	Marker    string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

func (storeOwner) TableName() string {
	return "store_owner"
}

// SQLiteProvisioner keeps one database file per tenant under a directory.
type SQLiteProvisioner struct {
	dir    string
	logger *zap.Logger
	config *gorm.Config
}

func NewSQLiteProvisioner(dir string, log *zap.Logger) *SQLiteProvisioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLiteProvisioner{
		dir:    dir,
		logger: log,
		config: &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	}
}

func (p *SQLiteProvisioner) path(name string) string {
	return filepath.Join(p.dir, name+".db")
}

func (p *SQLiteProvisioner) CreateStore(ctx context.Context, t *tenant.Tenant) (string, error) {
	name := NameFor(t.Subdomain)
	path := p.path(name)

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return "", &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
	}
	if _, err := os.Stat(path); err == nil {
		return name, p.checkOwner(ctx, name, t)
	}

	// the store is built and marked under a temporary name, then linked into place;
	// link fails if the name is already taken
	tmp, err := os.CreateTemp(p.dir, name+".*.tmp")
	if err != nil {
		return "", &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		if rmErr := p.remove(tmpPath); rmErr != nil {
			p.logger.Warn("failed to remove temporary store", zap.String("path", tmpPath), zap.Error(rmErr))
		}
	}()

	if err := p.writeOwner(ctx, tmpPath, t.ID); err != nil {
		return "", &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
	}
	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return name, p.checkOwner(ctx, name, t)
		}
		return "", &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
	}

	p.logger.Info("tenant store created", zap.String("store", name), zap.String("tenant_id", t.ID))
	return name, nil
}

// checkOwner accepts an existing store only if the same tenant created it. An
// unmarked store is adopted by the tenant that claimed its name.
func (p *SQLiteProvisioner) checkOwner(ctx context.Context, name string, t *tenant.Tenant) error {
	path := p.path(name)
	owner, err := p.readOwner(ctx, path)
	if err != nil {
		return &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
	}
	if owner == "" && adoptable(t, name) {
		if err := p.writeOwner(ctx, path, t.ID); err != nil {
			return &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
		}
		p.logger.Info("adopted unmarked tenant store", zap.String("store", name), zap.String("tenant_id", t.ID))
		return nil
	}
	if owner != ownerMarker(t.ID) {
		return &provision.Error{
			Kind:  provision.KindNameCollision,
			Store: name,
			Err:   fmt.Errorf("store exists and is owned by %q", owner),
		}
	}
	p.logger.Info("reusing tenant store from a previous attempt", zap.String("store", name), zap.String("tenant_id", t.ID))
	return nil
}

func (p *SQLiteProvisioner) writeOwner(ctx context.Context, path, tenantID string) error {
	db, err := gorm.Open(sqlite.Open(path), p.config)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	handle := &Handle{DB: db}
	defer handle.Close()

	db = db.WithContext(ctx)
	if err := db.AutoMigrate(&storeOwner{}); err != nil {
		return fmt.Errorf("failed to create owner table: %w", err)
	}
	if err := db.Create(&storeOwner{Marker: ownerMarker(tenantID)}).Error; err != nil {
		return fmt.Errorf("failed to write owner marker: %w", err)
	}
	return nil
}

// readOwner returns the owner marker of a store, or "" if it has none.
func (p *SQLiteProvisioner) readOwner(ctx context.Context, path string) (string, error) {
	db, err := gorm.Open(sqlite.Open(path), p.config)
	if err != nil {
		return "", fmt.Errorf("failed to open store: %w", err)
	}
	handle := &Handle{DB: db}
	defer handle.Close()

	db = db.WithContext(ctx)
	if !db.Migrator().HasTable(&storeOwner{}) {
		return "", nil
	}
	var owner storeOwner
	if err := db.Limit(1).Find(&owner).Error; err != nil {
		return "", fmt.Errorf("failed to read owner marker: %w", err)
	}
	return owner.Marker, nil
}

func (p *SQLiteProvisioner) DropStore(_ context.Context, name string) error {
	if err := p.remove(p.path(name)); err != nil {
		return fmt.Errorf("failed to drop store %s: %w", name, err)
	}
	p.logger.Info("tenant store dropped", zap.String("store", name))
	return nil
}

func (p *SQLiteProvisioner) remove(path string) error {
	var errs error
	for _, file := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Exists reports whether a store file is present.
func (p *SQLiteProvisioner) Exists(name string) bool {
	_, err := os.Stat(p.path(name))
	return err == nil
}

func (p *SQLiteProvisioner) Open(ctx context.Context, name string) (*Handle, error) {
	path := p.path(name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store %s is not available: %w", name, err)
	}
	db, err := gorm.Open(sqlite.Open(path), p.config)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", name, err)
	}
	return &Handle{Name: name, DB: db.WithContext(ctx)}, nil
}
