package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/beesaferoot/gorm-tenancy/internal/provision"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

// PostgresProvisioner creates one database per tenant on the platform's server.
// The creating tenant is recorded as the database comment.
type PostgresProvisioner struct {
	admin       *gorm.DB
	dsnTemplate string
	logger      *zap.Logger
}

// NewPostgresProvisioner uses admin for CREATE/DROP DATABASE. dsnTemplate holds a
// single %s for the database name, e.g. "host=db user=app dbname=%s sslmode=disable".
func NewPostgresProvisioner(admin *gorm.DB, dsnTemplate string, logger *zap.Logger) *PostgresProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresProvisioner{admin: admin, dsnTemplate: dsnTemplate, logger: logger}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// owner returns the comment of database name and whether the database exists.
func (p *PostgresProvisioner) owner(ctx context.Context, name string) (string, bool, error) {
	var rows []struct {
		Owner sql.NullString
	}
	err := p.admin.WithContext(ctx).
		Raw("SELECT shobj_description(oid, 'pg_database') AS owner FROM pg_database WHERE datname = ?", name).
		Scan(&rows).Error
	if err != nil {
		return "", false, fmt.Errorf("failed to look up database: %w", err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].Owner.String, true, nil
}

func (p *PostgresProvisioner) CreateStore(ctx context.Context, t *tenant.Tenant) (string, error) {
	name := NameFor(t.Subdomain)
	marker := ownerMarker(t.ID)

	owner, exists, err := p.owner(ctx, name)
	if err != nil {
		return "", &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
	}
	if exists {
		if owner == "" && adoptable(t, name) {
			// created by an attempt that stopped before the comment was written
			if err := p.mark(ctx, name, marker); err != nil {
				return "", &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
			}
			p.logger.Info("adopted unmarked tenant store", zap.String("store", name), zap.String("tenant_id", t.ID))
			return name, nil
		}
		if owner != marker {
			return "", &provision.Error{
				Kind:  provision.KindNameCollision,
				Store: name,
				Err:   fmt.Errorf("database exists and is owned by %q", owner),
			}
		}
		p.logger.Info("reusing tenant store from a previous attempt", zap.String("store", name), zap.String("tenant_id", t.ID))
		return name, nil
	}

	db := p.admin.WithContext(ctx)
	if err := db.Exec("CREATE DATABASE " + quoteIdent(name)).Error; err != nil {
		return "", &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
	}
	if err := p.mark(ctx, name, marker); err != nil {
		if dropErr := p.DropStore(ctx, name); dropErr != nil {
			p.logger.Error("failed to drop unmarked store", zap.String("store", name), zap.Error(dropErr))
		}
		return "", &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
	}

	p.logger.Info("tenant store created", zap.String("store", name), zap.String("tenant_id", t.ID))
	return name, nil
}

func (p *PostgresProvisioner) mark(ctx context.Context, name, marker string) error {
	return p.admin.WithContext(ctx).
		Exec(fmt.Sprintf("COMMENT ON DATABASE %s IS %s", quoteIdent(name), quoteLiteral(marker))).Error
}

func (p *PostgresProvisioner) DropStore(ctx context.Context, name string) error {
	if err := p.admin.WithContext(ctx).Exec("DROP DATABASE IF EXISTS " + quoteIdent(name)).Error; err != nil {
		return fmt.Errorf("failed to drop store %s: %w", name, err)
	}
	p.logger.Info("tenant store dropped", zap.String("store", name))
	return nil
}

func (p *PostgresProvisioner) Open(ctx context.Context, name string) (*Handle, error) {
	db, err := gorm.Open(postgres.Open(fmt.Sprintf(p.dsnTemplate, name)), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", name, err)
	}
	return &Handle{Name: name, DB: db.WithContext(ctx)}, nil
}
