package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	when := time.Now().Add(-age)
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestPruneLogsRemovesExpiredPyxisLogs(t *testing.T) {
	dir := t.TempDir()
	month := 30 * 24 * time.Hour
	current := filepath.Join(dir, LogFileName)
	rotated := filepath.Join(dir, "pyxis.log.1")
	fresh := filepath.Join(dir, "pyxis-fresh.log")
	foreign := filepath.Join(dir, "notes.log")
	writeAged(t, current, month)
	writeAged(t, rotated, month)
	writeAged(t, fresh, time.Hour)
	writeAged(t, foreign, month)

	pruneLogs(NewNop(), dir, current, 7)

	if _, err := os.Stat(rotated); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be pruned", rotated)
	}
	for _, path := range []string{current, fresh, foreign} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
}

func TestPruneLogsDisabled(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "pyxis-old.log")
	writeAged(t, old, 365*24*time.Hour)

	pruneLogs(NewNop(), dir, filepath.Join(dir, LogFileName), 0)

	if _, err := os.Stat(old); err != nil {
		t.Fatalf("expected file to remain when retention is disabled: %v", err)
	}
}
