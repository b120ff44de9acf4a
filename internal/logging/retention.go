package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// pruneLogs removes pyxis*.log* files in dir not modified within keepDays,
// skipping the active log at current. keepDays <= 0 keeps everything.
func pruneLogs(logger *slog.Logger, dir, current string, keepDays int) {
	if keepDays <= 0 {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "pyxis") || !strings.Contains(name, ".log") {
			continue
		}
		path := filepath.Join(dir, name)
		if path == filepath.Clean(current) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "old log not pruned", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check ownership of paths.log_dir"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		logger.Debug("old log pruned", String("path", path), String(FieldEventType, "log_pruned"))
	}
}
