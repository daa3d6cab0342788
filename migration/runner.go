package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beesaferoot/gorm-tenancy/internal/provision"
)

// Report summarizes a single Apply run.
type Report struct {
	Batch   int
	Applied []string
	Skipped int
}

// ScriptStatus is the ledger state of one change-script.
type ScriptStatus struct {
	Set     string
	ID      string
	Applied bool
	Batch   int
}

// Runner applies script sets to a tenant store and records them in the store's ledger.
type Runner struct {
	resolver ScriptSetResolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner creates a Runner that looks up script sets through resolver.
func NewRunner(resolver ScriptSetResolver, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// ensureLedger creates the ledger table if it doesn't exist
func (r *Runner) ensureLedger(db *gorm.DB) error {
	return db.AutoMigrate(&MigrationRecord{})
}

// applied returns the ledgered script ids and the highest batch number in use.
func (r *Runner) applied(db *gorm.DB) (map[string]MigrationRecord, int, error) {
	if err := r.ensureLedger(db); err != nil {
		return nil, 0, fmt.Errorf("failed to create migration ledger: %w", err)
	}

	var records []MigrationRecord
	if err := db.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to read migration ledger: %w", err)
	}

	applied := make(map[string]MigrationRecord, len(records))
	lastBatch := 0
	for _, record := range records {
		applied[record.Name] = record
		if record.Batch > lastBatch {
			lastBatch = record.Batch
		}
	}
	return applied, lastBatch, nil
}

// Apply runs every pending script of the given sets, in set order and then in ID order
// within a set. Each script and its ledger row are committed in one transaction. The
// first failure stops the run.
func (r *Runner) Apply(ctx context.Context, db *gorm.DB, sets []string) (*Report, error) {
	db = db.WithContext(ctx)

	applied, lastBatch, err := r.applied(db)
	if err != nil {
		return nil, provision.Wrap(provision.KindScriptExecutionFailed, err)
	}

	report := &Report{Batch: lastBatch + 1}
	for _, setName := range sets {
		set, ok, err := r.resolver.Resolve(ctx, setName)
		if err != nil {
			return report, provision.Wrap(provision.KindScriptExecutionFailed,
				fmt.Errorf("failed to load script set %s: %w", setName, err))
		}
		if !ok {
			if setName == CoreSet {
				return report, provision.Wrap(provision.KindScriptExecutionFailed, ErrCoreSetMissing)
			}
			r.logger.Info("no change-scripts defined for script set", zap.String("set", setName))
			continue
		}
		if len(set.Migrations) == 0 {
			r.logger.Info("script set is empty, skipping", zap.String("set", setName))
			continue
		}

		for _, m := range set.Sorted() {
			id := m.ID()
			if _, done := applied[id]; done {
				report.Skipped++
				continue
			}

			r.logger.Debug("applying change-script", zap.String("set", setName), zap.String("script", id))
			if err := r.applyOne(db, setName, report.Batch, m); err != nil {
				return report, &provision.Error{Kind: provision.KindScriptExecutionFailed, Script: id, Err: err}
			}

			applied[id] = MigrationRecord{Name: id, Set: setName, Batch: report.Batch}
			report.Applied = append(report.Applied, id)
		}
	}

	if len(report.Applied) > 0 {
		r.logger.Info("change-scripts applied",
			zap.Int("batch", report.Batch),
			zap.Int("applied", len(report.Applied)),
			zap.Int("skipped", report.Skipped))
	}
	return report, nil
}

func (r *Runner) applyOne(db *gorm.DB, set string, batch int, m *Migration) error {
	if m.Up == nil {
		return fmt.Errorf("%w: %s has no up section", ErrMalformedScript, m.ID())
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := m.Up(tx); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.ID(), err)
		}

		record := MigrationRecord{
			Name:      m.ID(),
			Set:       set,
			Batch:     batch,
			AppliedAt: r.now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.ID(), err)
		}
		return nil
	})
}

// Down reverts every script of the most recent batch, newest first.
func (r *Runner) Down(ctx context.Context, db *gorm.DB, sets []string) ([]string, error) {
	db = db.WithContext(ctx)
	if err := r.ensureLedger(db); err != nil {
		return nil, fmt.Errorf("failed to create migration ledger: %w", err)
	}

	var last MigrationRecord
	if err := db.Order("batch DESC").First(&last).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}

	var records []MigrationRecord
	if err := db.Where("batch = ?", last.Batch).Order("name DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}

	index, err := r.index(ctx, sets)
	if err != nil {
		return nil, err
	}

	var reverted []string
	for _, record := range records {
		m, ok := index[record.Name]
		if !ok {
			return reverted, fmt.Errorf("migration %s not found in any script set", record.Name)
		}
		if m.Down == nil {
			return reverted, fmt.Errorf("migration %s has no down section", record.Name)
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Down(tx); err != nil {
				return fmt.Errorf("failed to revert migration %s: %w", record.Name, err)
			}
			if err := tx.Delete(&MigrationRecord{}, "name = ?", record.Name).Error; err != nil {
				return fmt.Errorf("failed to remove migration record: %w", err)
			}
			return nil
		})
		if err != nil {
			return reverted, err
		}
		reverted = append(reverted, record.Name)
	}
	return reverted, nil
}

// Status reports which scripts of the given sets are in the ledger.
func (r *Runner) Status(ctx context.Context, db *gorm.DB, sets []string) ([]ScriptStatus, error) {
	db = db.WithContext(ctx)
	applied, _, err := r.applied(db)
	if err != nil {
		return nil, err
	}

	var statuses []ScriptStatus
	for _, setName := range sets {
		set, ok, err := r.resolver.Resolve(ctx, setName)
		if err != nil {
			return nil, fmt.Errorf("failed to load script set %s: %w", setName, err)
		}
		if !ok {
			continue
		}
		for _, m := range set.Sorted() {
			record, done := applied[m.ID()]
			statuses = append(statuses, ScriptStatus{
				Set:     setName,
				ID:      m.ID(),
				Applied: done,
				Batch:   record.Batch,
			})
		}
	}
	return statuses, nil
}

// History returns the ledger, most recent first.
func (r *Runner) History(ctx context.Context, db *gorm.DB) ([]MigrationRecord, error) {
	db = db.WithContext(ctx)
	if err := r.ensureLedger(db); err != nil {
		return nil, fmt.Errorf("failed to create migration ledger: %w", err)
	}

	var records []MigrationRecord
	if err := db.Order("batch DESC, name DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get migration history: %w", err)
	}
	return records, nil
}

func (r *Runner) index(ctx context.Context, sets []string) (map[string]*Migration, error) {
	index := make(map[string]*Migration)
	for _, setName := range sets {
		set, ok, err := r.resolver.Resolve(ctx, setName)
		if err != nil {
			return nil, fmt.Errorf("failed to load script set %s: %w", setName, err)
		}
		if !ok {
			continue
		}
		for _, m := range set.Migrations {
			index[m.ID()] = m
		}
	}
	return index, nil
}
