package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/beesaferoot/gorm-tenancy/migration"
	"github.com/beesaferoot/gorm-tenancy/migration/file"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		wantVersion string
		wantName    string
		wantErr     bool
	}{
		{"valid", "20240101000001_create_roles_table.sql", "20240101000001", "create_roles_table", false},
		{"missing name", "20240101000001.sql", "", "", true},
		{"short version", "2024_create_roles.sql", "", "", true},
		{"invalid date", "20241399000000_create_roles.sql", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, name, err := file.ParseFileName(tt.fileName)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestLoader_Resolve(t *testing.T) {
	fsys := fstest.MapFS{
		"core/20240101000002_create_users_table.sql": {Data: []byte(
			"-- +migrate Up\nCREATE TABLE users (id VARCHAR(36) PRIMARY KEY);\n-- +migrate Down\nDROP TABLE users;\n")},
		"core/20240101000001_create_roles_table.sql": {Data: []byte(
			"CREATE TABLE roles (id VARCHAR(36) PRIMARY KEY);\n")},
		"core/README.md":  {Data: []byte("not a script")},
		"modules/hr/.keep": {Data: []byte{}},
	}
	loader := file.NewLoader(fsys, nil)
	ctx := context.Background()

	set, ok, err := loader.Resolve(ctx, "core")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, set.Migrations, 2)

	sorted := set.Sorted()
	assert.Equal(t, "20240101000001_create_roles_table", sorted[0].ID())
	assert.Nil(t, sorted[0].Down, "a script without markers has no down section")
	assert.NotNil(t, sorted[1].Down)

	set, ok, err = loader.Resolve(ctx, "modules/hr")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, set.Migrations)

	_, ok, err = loader.Resolve(ctx, "modules/billing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoader_AppliesThroughRunner(t *testing.T) {
	fsys := fstest.MapFS{
		"core/20240101000001_create_roles_table.sql": {Data: []byte(
			"-- +migrate Up\nCREATE TABLE roles (id VARCHAR(36) PRIMARY KEY);\n-- +migrate Down\nDROP TABLE roles;\n")},
		"modules/hr/20240201000001_create_employees_table.sql": {Data: []byte(
			"-- +migrate Up\nCREATE TABLE employees (id VARCHAR(36) PRIMARY KEY);\n")},
	}
	db := setupTestDB(t)
	runner := migration.NewRunner(file.NewLoader(fsys, nil), nil)

	report, err := runner.Apply(context.Background(), db, migration.SetsFor([]string{"hr"}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"20240101000001_create_roles_table",
		"20240201000001_create_employees_table",
	}, report.Applied)

	reverted, err := runner.Down(context.Background(), db, migration.SetsFor([]string{"hr"}))
	assert.Error(t, err, "employees script has no down section")
	assert.Empty(t, reverted)
}

func TestLoader_MalformedScriptFailsAtItsPosition(t *testing.T) {
	fsys := fstest.MapFS{
		"core/20240101000001_create_roles_table.sql": {Data: []byte("CREATE TABLE roles (id VARCHAR(36) PRIMARY KEY);")},
		"core/20240101000002_empty.sql":              {Data: []byte("-- +migrate Up\n-- +migrate Down\nDROP TABLE x;\n")},
		"core/20240101000003_create_users_table.sql": {Data: []byte("CREATE TABLE users (id VARCHAR(36) PRIMARY KEY);")},
	}
	db := setupTestDB(t)
	runner := migration.NewRunner(file.NewLoader(fsys, nil), nil)

	report, err := runner.Apply(context.Background(), db, []string{migration.CoreSet})
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrMalformedScript)
	assert.Equal(t, []string{"20240101000001_create_roles_table"}, report.Applied)
}

func TestCreateScript(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	path, err := file.CreateScript(dir, "modules/hr", "create_payslips_table", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "modules", "hr", "20240301123000_create_payslips_table.sql"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "-- +migrate Up")

	_, err = file.CreateScript(dir, "modules/hr", "create_payslips_table", now)
	assert.Error(t, err)

	_, err = file.CreateScript(dir, "core", "Bad Name", now)
	assert.Error(t, err)

	set, ok, err := file.NewDirLoader(dir, nil).Resolve(context.Background(), "modules/hr")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, set.Migrations, 1)
}

func TestLoader_SetsAndValidate(t *testing.T) {
	fsys := fstest.MapFS{
		"core/20240101000001_create_roles_table.sql":         {Data: []byte("CREATE TABLE roles (id VARCHAR(36) PRIMARY KEY);")},
		"core/20240101000002_empty.sql":                      {Data: []byte("-- +migrate Up\n-- +migrate Down\nDROP TABLE x;\n")},
		"modules/hr/20240201000001_create_employees.sql":     {Data: []byte("CREATE TABLE employees (id INTEGER);")},
		"modules/hr/20240201000001_create_leave_requests.sql": {Data: []byte("CREATE TABLE leave_requests (id INTEGER);")},
		"modules/hr/notes.txt":                               {Data: []byte("not a script")},
		"tenant/bad-name.sql":                                {Data: []byte("SELECT 1;")},
	}
	loader := file.NewLoader(fsys, nil)

	sets, err := loader.Sets()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"core", "modules/hr", "tenant"}, sets)

	err = loader.Validate(sets)
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrMalformedScript)
	assert.Contains(t, err.Error(), "20240101000002_empty.sql")
	assert.Contains(t, err.Error(), "share version 20240201000001")
	assert.Contains(t, err.Error(), "bad-name.sql")

	assert.NoError(t, loader.Validate([]string{"modules/missing"}))
}
