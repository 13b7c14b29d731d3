// Package purge empties a download directory between runs.
package purge

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Dir removes every regular file directly inside dir and returns how many
// were removed. Subdirectories and their contents are left alone. Removal
// stops at the first failure.
func Dir(dir string, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read directory %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
		if logger != nil {
			logger.Debug("file removed", "path", path)
		}
	}
	return removed, nil
}
