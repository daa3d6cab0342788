package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beesaferoot/gorm-tenancy/migration"
)

// VersionLayout is the time layout of the version prefix of a script filename.
const VersionLayout = "20060102150405"

// ScriptExt is the extension of change-script files.
const ScriptExt = ".sql"

const (
	upMarker   = "-- +migrate up"
	downMarker = "-- +migrate down"
)

// Loader resolves script sets from directories of an fs.FS: a set named
// "modules/hr" is the directory modules/hr.
type Loader struct {
	fsys   fs.FS
	logger *zap.Logger
	debug  bool
}

// NewLoader creates a Loader over fsys.
func NewLoader(fsys fs.FS, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fsys: fsys, logger: logger}
}

// NewDirLoader creates a Loader rooted at a directory on disk.
func NewDirLoader(dir string, logger *zap.Logger) *Loader {
	return NewLoader(os.DirFS(dir), logger)
}

// SetDebug enables or disables debug output
func (l *Loader) SetDebug(debug bool) {
	l.debug = debug
}

// Resolve lists the change-scripts of a set. Scripts whose filename or content can't
// be parsed are still returned; they fail when executed so that a malformed script
// aborts the run at its position in the order.
func (l *Loader) Resolve(_ context.Context, set string) (*migration.ScriptSet, bool, error) {
	entries, err := fs.ReadDir(l.fsys, set)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read script directory %s: %w", set, err)
	}

	scriptSet := &migration.ScriptSet{Name: set}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ScriptExt) {
			continue
		}
		scriptSet.Migrations = append(scriptSet.Migrations, l.parseScript(set, entry.Name()))
	}

	if l.debug {
		l.logger.Debug("resolved script set", zap.String("set", set), zap.Int("scripts", len(scriptSet.Migrations)))
	}
	return scriptSet, true, nil
}

// parseScript turns a single script file into a migration. A script that can't be
// read becomes a migration whose Up fails.
func (l *Loader) parseScript(set, fileName string) *migration.Migration {
	m, err := l.readScript(set, fileName)
	if err != nil {
		return malformed(m.Version, m.Name, err)
	}
	if l.debug {
		l.logger.Debug("parsed change-script", zap.String("set", set), zap.String("script", m.ID()))
	}
	return m
}

// readScript always returns a migration carrying whatever version and name could be
// parsed, together with the first problem found.
func (l *Loader) readScript(set, fileName string) (*migration.Migration, error) {
	version, name, err := ParseFileName(fileName)
	if err != nil {
		return &migration.Migration{Version: strings.TrimSuffix(fileName, ScriptExt)}, err
	}
	m := &migration.Migration{Version: version, Name: name}

	content, err := fs.ReadFile(l.fsys, path.Join(set, fileName))
	if err != nil {
		return m, fmt.Errorf("failed to read file: %w", err)
	}

	up, down := splitSections(string(content))
	if strings.TrimSpace(up) == "" {
		return m, fmt.Errorf("%s has no up section", fileName)
	}

	m.Up = func(db *gorm.DB) error {
		return db.Exec(up).Error
	}
	if strings.TrimSpace(down) != "" {
		m.Down = func(db *gorm.DB) error {
			return db.Exec(down).Error
		}
	}
	return m, nil
}

// Sets lists every directory of the loader that holds at least one script.
func (l *Loader) Sets() ([]string, error) {
	seen := make(map[string]bool)
	var sets []string
	err := fs.WalkDir(l.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ScriptExt) {
			return nil
		}
		dir := path.Dir(p)
		if dir != "." && !seen[dir] {
			seen[dir] = true
			sets = append(sets, dir)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list script sets: %w", err)
	}
	return sets, nil
}

// Validate parses every script of the given sets and reports all problems at once.
// Sets the loader doesn't have are skipped.
func (l *Loader) Validate(sets []string) error {
	var errs error
	for _, set := range sets {
		entries, err := fs.ReadDir(l.fsys, set)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to read script directory %s: %w", set, err))
			continue
		}
		seen := make(map[string]string)
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ScriptExt) {
				continue
			}
			m, err := l.readScript(set, entry.Name())
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%w: %s/%s: %v", migration.ErrMalformedScript, set, entry.Name(), err))
				continue
			}
			if other, dup := seen[m.Version]; dup {
				errs = multierr.Append(errs, fmt.Errorf("%s: %s and %s share version %s", set, other, entry.Name(), m.Version))
			}
			seen[m.Version] = entry.Name()
		}
	}
	return errs
}

func malformed(version, name string, cause error) *migration.Migration {
	return &migration.Migration{
		Version: version,
		Name:    name,
		Up: func(*gorm.DB) error {
			return fmt.Errorf("%w: %v", migration.ErrMalformedScript, cause)
		},
	}
}

// ParseFileName splits "<version>_<name>.sql" into its version and name.
func ParseFileName(fileName string) (string, string, error) {
	stem := strings.TrimSuffix(fileName, ScriptExt)
	parts := strings.SplitN(stem, "_", 2)
	if len(parts) < 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid migration filename format: %s", fileName)
	}

	version := parts[0]
	if len(version) != len(VersionLayout) {
		return "", "", fmt.Errorf("invalid migration version %q in %s", version, fileName)
	}
	if _, err := time.Parse(VersionLayout, version); err != nil {
		return "", "", fmt.Errorf("invalid migration version %q in %s: %w", version, fileName, err)
	}
	return version, parts[1], nil
}

// splitSections extracts the up and down SQL of a script. Without markers the
// whole file is the up section.
func splitSections(content string) (string, string) {
	var up, down strings.Builder
	current := &up
	sawMarker := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(trimmed, upMarker):
			current = &up
			sawMarker = true
			continue
		case strings.HasPrefix(trimmed, downMarker):
			current = &down
			sawMarker = true
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if !sawMarker {
		return content, ""
	}
	return up.String(), down.String()
}
