package migration_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/beesaferoot/gorm-tenancy/internal/provision"
	"github.com/beesaferoot/gorm-tenancy/migration"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func createTable(version, table string) *migration.Migration {
	return &migration.Migration{
		Version: version,
		Name:    "create_" + table + "_table",
		Up: func(db *gorm.DB) error {
			return db.Exec(fmt.Sprintf("CREATE TABLE %s (id INTEGER PRIMARY KEY)", table)).Error
		},
		Down: func(db *gorm.DB) error {
			return db.Exec(fmt.Sprintf("DROP TABLE %s", table)).Error
		},
	}
}

func hasTable(t *testing.T, db *gorm.DB, table string) bool {
	var count int64
	err := db.Raw("SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count).Error
	require.NoError(t, err)
	return count == 1
}

func ledger(t *testing.T, db *gorm.DB) []migration.MigrationRecord {
	var records []migration.MigrationRecord
	require.NoError(t, db.Order("name").Find(&records).Error)
	return records
}

func TestRunner_ApplyOrdersAcrossAndWithinSets(t *testing.T) {
	db := setupTestDB(t)
	registry := migration.NewRegistry()

	var order []string
	record := func(m *migration.Migration) *migration.Migration {
		up := m.Up
		m.Up = func(db *gorm.DB) error {
			order = append(order, m.ID())
			return up(db)
		}
		return m
	}

	// registered out of order on purpose
	registry.Register(migration.CoreSet, record(createTable("20240101000002", "users")))
	registry.Register(migration.CoreSet, record(createTable("20240101000001", "roles")))
	registry.Register(migration.ModuleSet("hr"), record(createTable("20230101000001", "employees")))

	runner := migration.NewRunner(registry, nil)
	report, err := runner.Apply(context.Background(), db, migration.SetsFor([]string{"core", "hr"}))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"20240101000001_create_roles_table",
		"20240101000002_create_users_table",
		"20230101000001_create_employees_table",
	}, order)
	assert.Equal(t, order, report.Applied)
	assert.Equal(t, 1, report.Batch)

	for _, table := range []string{"roles", "users", "employees"} {
		assert.True(t, hasTable(t, db, table), table)
	}
}

func TestRunner_ApplyIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	registry := migration.NewRegistry()
	registry.Register(migration.CoreSet, createTable("20240101000001", "roles"))
	registry.Register(migration.CoreSet, createTable("20240101000002", "users"))

	runner := migration.NewRunner(registry, nil)
	sets := migration.SetsFor(nil)

	_, err := runner.Apply(context.Background(), db, sets)
	require.NoError(t, err)
	first := ledger(t, db)

	report, err := runner.Apply(context.Background(), db, sets)
	require.NoError(t, err)
	assert.Empty(t, report.Applied)
	assert.Equal(t, 2, report.Skipped)

	second := ledger(t, db)
	require.Len(t, second, 2)
	assert.Equal(t, first, second)
}

func TestRunner_ApplyStopsAtFirstFailure(t *testing.T) {
	db := setupTestDB(t)
	registry := migration.NewRegistry()
	registry.Register(migration.CoreSet, createTable("20240101000001", "roles"))
	registry.Register(migration.CoreSet, createTable("20240101000002", "users"))
	registry.Register(migration.CoreSet, &migration.Migration{
		Version: "20240101000003",
		Name:    "broken",
		Up: func(db *gorm.DB) error {
			if err := db.Exec("CREATE TABLE half_done (id INTEGER PRIMARY KEY)").Error; err != nil {
				return err
			}
			return errors.New("induced failure")
		},
	})
	registry.Register(migration.CoreSet, createTable("20240101000004", "settings"))
	registry.Register(migration.ModuleSet("hr"), createTable("20240201000001", "employees"))

	runner := migration.NewRunner(registry, nil)
	report, err := runner.Apply(context.Background(), db, migration.SetsFor([]string{"hr"}))
	require.Error(t, err)

	assert.True(t, provision.IsKind(err, provision.KindScriptExecutionFailed))
	var perr *provision.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "20240101000003_broken", perr.Script)

	assert.Len(t, report.Applied, 2)
	assert.Len(t, ledger(t, db), 2)
	assert.False(t, hasTable(t, db, "half_done"), "failed script must roll back with its transaction")
	assert.False(t, hasTable(t, db, "settings"))
	assert.False(t, hasTable(t, db, "employees"))
}

func TestRunner_ApplyResumesFromLedger(t *testing.T) {
	db := setupTestDB(t)
	registry := migration.NewRegistry()
	for i := 1; i <= 5; i++ {
		registry.Register(migration.CoreSet, createTable(fmt.Sprintf("2024010100000%d", i), fmt.Sprintf("t%d", i)))
	}

	// two scripts were applied by an earlier, interrupted attempt
	partial := migration.NewRegistry()
	set, _, _ := registry.Resolve(context.Background(), migration.CoreSet)
	for _, m := range set.Sorted()[:2] {
		partial.Register(migration.CoreSet, m)
	}
	_, err := migration.NewRunner(partial, nil).Apply(context.Background(), db, []string{migration.CoreSet})
	require.NoError(t, err)

	var executed []string
	counting := migration.NewRegistry()
	for _, m := range set.Sorted() {
		m := m
		up := m.Up
		counting.Register(migration.CoreSet, &migration.Migration{
			Version: m.Version,
			Name:    m.Name,
			Up: func(db *gorm.DB) error {
				executed = append(executed, m.ID())
				return up(db)
			},
		})
	}

	report, err := migration.NewRunner(counting, nil).Apply(context.Background(), db, []string{migration.CoreSet})
	require.NoError(t, err)
	assert.Equal(t, []string{"20240101000003_create_t3_table", "20240101000004_create_t4_table", "20240101000005_create_t5_table"}, executed)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 2, report.Batch)
	assert.Len(t, ledger(t, db), 5)
}

func TestRunner_MissingAndEmptySets(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("missing core set is an error", func(t *testing.T) {
		runner := migration.NewRunner(migration.NewRegistry(), nil)
		_, err := runner.Apply(ctx, db, migration.SetsFor(nil))
		assert.ErrorIs(t, err, migration.ErrCoreSetMissing)
	})

	t.Run("missing module set is skipped", func(t *testing.T) {
		registry := migration.NewRegistry()
		registry.Register(migration.CoreSet, createTable("20240101000001", "roles"))
		runner := migration.NewRunner(registry, nil)

		report, err := runner.Apply(ctx, db, migration.SetsFor([]string{"billing"}))
		require.NoError(t, err)
		assert.Len(t, report.Applied, 1)
	})

	t.Run("empty set is skipped", func(t *testing.T) {
		registry := &emptyResolver{inner: migration.NewRegistry()}
		registry.inner.Register(migration.CoreSet, createTable("20240101000002", "users"))
		runner := migration.NewRunner(registry, nil)

		report, err := runner.Apply(ctx, db, migration.SetsFor([]string{"hr"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"20240101000002_create_users_table"}, report.Applied)
	})
}

func TestRunner_MalformedScriptAbortsRun(t *testing.T) {
	db := setupTestDB(t)
	registry := migration.NewRegistry()
	registry.Register(migration.CoreSet, createTable("20240101000001", "roles"))
	registry.Register(migration.CoreSet, &migration.Migration{Version: "20240101000002", Name: "no_body"})
	registry.Register(migration.CoreSet, createTable("20240101000003", "users"))

	runner := migration.NewRunner(registry, nil)
	_, err := runner.Apply(context.Background(), db, []string{migration.CoreSet})
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrMalformedScript)
	assert.True(t, hasTable(t, db, "roles"))
	assert.False(t, hasTable(t, db, "users"))
}

func TestRunner_DeduplicatesScriptsAcrossSets(t *testing.T) {
	db := setupTestDB(t)
	registry := migration.NewRegistry()
	shared := createTable("20240101000001", "audit_log")
	registry.Register(migration.CoreSet, shared)
	registry.Register(migration.ModuleSet("hr"), shared)

	runner := migration.NewRunner(registry, nil)
	report, err := runner.Apply(context.Background(), db, migration.SetsFor([]string{"hr"}))
	require.NoError(t, err)
	assert.Len(t, report.Applied, 1)
	assert.Equal(t, 1, report.Skipped)
}

func TestRunner_DownRevertsLastBatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	registry := migration.NewRegistry()
	registry.Register(migration.CoreSet, createTable("20240101000001", "roles"))
	runner := migration.NewRunner(registry, nil)

	_, err := runner.Apply(ctx, db, []string{migration.CoreSet})
	require.NoError(t, err)

	registry.Register(migration.CoreSet, createTable("20240101000002", "users"))
	registry.Register(migration.CoreSet, createTable("20240101000003", "settings"))
	report, err := runner.Apply(ctx, db, []string{migration.CoreSet})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Batch)

	reverted, err := runner.Down(ctx, db, []string{migration.CoreSet})
	require.NoError(t, err)
	assert.Equal(t, []string{"20240101000003_create_settings_table", "20240101000002_create_users_table"}, reverted)

	assert.True(t, hasTable(t, db, "roles"))
	assert.False(t, hasTable(t, db, "users"))
	assert.False(t, hasTable(t, db, "settings"))
	assert.Len(t, ledger(t, db), 1)
}

func TestRunner_Status(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	registry := migration.NewRegistry()
	registry.Register(migration.CoreSet, createTable("20240101000001", "roles"))
	runner := migration.NewRunner(registry, nil)

	_, err := runner.Apply(ctx, db, []string{migration.CoreSet})
	require.NoError(t, err)
	registry.Register(migration.CoreSet, createTable("20240101000002", "users"))

	statuses, err := runner.Status(ctx, db, []string{migration.CoreSet})
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.Equal(t, 1, statuses[0].Batch)
	assert.False(t, statuses[1].Applied)

	history, err := runner.History(ctx, db)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "20240101000001_create_roles_table", history[0].Name)
}

func TestSetsFor(t *testing.T) {
	assert.Equal(t, []string{"core", "tenant"}, migration.SetsFor(nil))
	assert.Equal(t, []string{"core", "modules/hr", "modules/inventory", "tenant"},
		migration.SetsFor([]string{"core", "hr", "inventory", "hr"}))
}

// emptyResolver reports every non-core set as existing but empty.
type emptyResolver struct {
	inner *migration.Registry
}

func (r *emptyResolver) Resolve(ctx context.Context, set string) (*migration.ScriptSet, bool, error) {
	s, ok, err := r.inner.Resolve(ctx, set)
	if err != nil || ok {
		return s, ok, err
	}
	return &migration.ScriptSet{Name: set}, true, nil
}
