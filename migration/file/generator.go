package file

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var scriptNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

const scriptTemplate = `-- +migrate Up
CREATE TABLE IF NOT EXISTS example (
	id VARCHAR(36) PRIMARY KEY,
	created_at TIMESTAMP
);

-- +migrate Down
DROP TABLE IF EXISTS example;
`

// CreateScript writes a new, timestamped change-script skeleton into dir/set and
// returns its path.
func CreateScript(dir, set, name string, now time.Time) (string, error) {
	if !scriptNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid script name %q: use lowercase letters, digits and underscores", name)
	}

	setDir := filepath.Join(dir, filepath.FromSlash(set))
	if err := os.MkdirAll(setDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create script directory: %w", err)
	}

	fileName := fmt.Sprintf("%s_%s%s", now.UTC().Format(VersionLayout), name, ScriptExt)
	path := filepath.Join(setDir, fileName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("script %s already exists", path)
	}

	if err := os.WriteFile(path, []byte(scriptTemplate), 0644); err != nil {
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}
	return path, nil
}
