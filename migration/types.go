package migration

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Script-set names understood by the runner.
const (
	CoreSet   = "core"
	TenantSet = "tenant"
)

var (
	// ErrMalformedScript is returned when a change-script has nothing to execute.
	ErrMalformedScript = errors.New("malformed change-script")
	// ErrCoreSetMissing is returned when the resolver has no core script set.
	ErrCoreSetMissing = errors.New("core script set not found")
)

// Migration is a single change-script.
type Migration struct {
	Version string // 14-digit timestamp, e.g. 20240101000001
	Name    string
	Up      func(*gorm.DB) error
	Down    func(*gorm.DB) error
}

// ID is the ledger key of the migration. Lexicographic order of IDs is chronological.
func (m *Migration) ID() string {
	if m.Name == "" {
		return m.Version
	}
	return m.Version + "_" + m.Name
}

// MigrationRecord is a ledger row stored inside each tenant store.
type MigrationRecord struct {
	Name      string    `gorm:"primaryKey;size:255"`
	Set       string    `gorm:"size:255;not null"`
	Batch     int       `gorm:"not null;index"`
	AppliedAt time.Time `gorm:"not null"`
}

func (MigrationRecord) TableName() string {
	return "tenant_migrations"
}

// ScriptSet is an ordered group of change-scripts, e.g. the core set or one module's set.
type ScriptSet struct {
	Name       string
	Migrations []*Migration
}

// Sorted returns the set's migrations ordered by ID.
func (s *ScriptSet) Sorted() []*Migration {
	sorted := make([]*Migration, len(s.Migrations))
	copy(sorted, s.Migrations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID() < sorted[j].ID()
	})
	return sorted
}

// ScriptSetResolver looks up script sets by name. The boolean is false when
// the set does not exist.
type ScriptSetResolver interface {
	Resolve(ctx context.Context, set string) (*ScriptSet, bool, error)
}

// ModuleSet returns the script-set name for a module code.
func ModuleSet(code string) string {
	return "modules/" + code
}

// SetsFor returns the ordered script-set names for a tenant with the given modules:
// core first, then one set per module, then the tenant-specific set.
func SetsFor(modules []string) []string {
	sets := []string{CoreSet}
	seen := map[string]bool{CoreSet: true}
	for _, code := range modules {
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		sets = append(sets, ModuleSet(code))
	}
	return append(sets, TenantSet)
}

// Registry is an in-memory resolver for migrations written in Go.
type Registry struct {
	mu   sync.RWMutex
	sets map[string][]*Migration
}

func NewRegistry() *Registry {
	return &Registry{sets: make(map[string][]*Migration)}
}

// Register adds a migration to the named set.
func (r *Registry) Register(set string, migration *Migration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[set] = append(r.sets[set], migration)
}

func (r *Registry) Resolve(_ context.Context, set string) (*ScriptSet, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	migrations, ok := r.sets[set]
	if !ok {
		return nil, false, nil
	}
	copied := make([]*Migration, len(migrations))
	copy(copied, migrations)
	return &ScriptSet{Name: set, Migrations: copied}, true, nil
}

// Chain resolves a set from the first resolver that has it.
type Chain []ScriptSetResolver

func (c Chain) Resolve(ctx context.Context, set string) (*ScriptSet, bool, error) {
	for _, resolver := range c {
		s, ok, err := resolver.Resolve(ctx, set)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return s, true, nil
		}
	}
	return nil, false, nil
}
