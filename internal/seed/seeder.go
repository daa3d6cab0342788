// Package seed fills a freshly migrated tenant store with its baseline reference data.
package seed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beesaferoot/gorm-tenancy/internal/catalog"
	"github.com/beesaferoot/gorm-tenancy/internal/provision"
)

type Seeder struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

func NewSeeder(c *catalog.Catalog, logger *zap.Logger) *Seeder {
	if c == nil {
		c = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{catalog: c, logger: logger}
}

// SyncModules upserts the catalog hierarchy of the given modules into the store,
// keyed by code. With fresh set the table is cleared first, in the same transaction.
func (s *Seeder) SyncModules(ctx context.Context, db *gorm.DB, modules []string, fresh bool) error {
	entries := s.catalog.Flatten(modules)

	rows := make([]Module, 0, len(entries))
	for _, e := range entries {
		row := Module{
			Code:     e.Code,
			Kind:     string(e.Kind),
			Name:     e.Name,
			Position: e.Position,
		}
		if e.ParentCode != "" {
			parent := e.ParentCode
			row.ParentCode = &parent
		}
		rows = append(rows, row)
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if fresh {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Module{}).Error; err != nil {
				return fmt.Errorf("failed to clear modules: %w", err)
			}
		}
		if len(rows) == 0 {
			return nil
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"parent_code", "kind", "name", "position", "updated_at"}),
		}).CreateInBatches(rows, 100).Error
		if err != nil {
			return fmt.Errorf("failed to upsert modules: %w", err)
		}
		return nil
	})
	if err != nil {
		return provision.Wrap(provision.KindSeedFailed, err)
	}

	s.logger.Info("modules synchronized", zap.Strings("modules", modules), zap.Int("entries", len(rows)), zap.Bool("fresh", fresh))
	return nil
}

// SeedRoles find-or-creates the default roles by (name, guard).
func (s *Seeder) SeedRoles(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)
	for _, name := range DefaultRoles {
		var role Role
		err := db.Where(Role{Name: name, GuardName: GuardWeb}).
			Attrs(Role{ID: uuid.NewString()}).
			FirstOrCreate(&role).Error
		if err != nil {
			return provision.Wrap(provision.KindSeedFailed, fmt.Errorf("failed to seed role %s: %w", name, err))
		}
	}

	s.logger.Info("default roles seeded", zap.Int("roles", len(DefaultRoles)))
	return nil
}
