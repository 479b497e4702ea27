package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultCleanupAge is the age after which an atomic-write temporary file
// is treated as left behind by a killed save.
const DefaultCleanupAge = 1 * time.Hour

// isTempName matches the names AtomicWriteReader gives its temporary files.
func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") && strings.Count(name, ".") >= 3
}

// CleanupOrphanedTemp removes atomic-write temporary files older than
// maxAge from the output directory, without descending into
// subdirectories. It returns the number of files removed.
func (d *OutputDir) CleanupOrphanedTemp(logger *slog.Logger, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(d.baseDir)
	if err != nil {
		return 0, &PathError{Op: "read output directory", Path: d.baseDir, Err: err}
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int
	for _, entry := range entries {
		if entry.IsDir() || !isTempName(entry.Name()) {
			continue
		}
		path := filepath.Join(d.baseDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get temp file info",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent temp file", slog.String("path", path))
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove orphaned temp file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		logger.Info("removed orphaned temp file",
			slog.String("path", path),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)),
		)
		removed++
	}
	return removed, nil
}
