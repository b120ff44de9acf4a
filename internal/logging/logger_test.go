package logging_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pyxis/internal/config"
	"pyxis/internal/logging"
	"pyxis/internal/services"
)

func newConsole(t *testing.T, level string) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: level, Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return logger, &buf
}

func TestNewFromConfigWritesJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("batch claimed", logging.Int64(logging.FieldBatchID, 7))
	logger.Debug("below configured level")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(content)
	for _, want := range []string{`"batch_id":7`, `"msg":"batch claimed"`, `"level":"info"`, `"ts":"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in JSON log, got %q", want, out)
		}
	}
	if strings.Contains(out, "below configured level") {
		t.Fatalf("debug record leaked into info-level file log: %q", out)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logger, buf := newConsole(t, "info")
	logger.Info("message without caller")
	if strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", buf.String())
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logger, buf := newConsole(t, "debug")
	logger.Info("message with caller")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", buf.String())
	}
}

func TestConsoleLoggerLiftsComponent(t *testing.T) {
	logger, buf := newConsole(t, "info")

	logging.NewComponentLogger(logger, "merge").Info("rules loaded", logging.Int("rules", 3))

	line := buf.String()
	if !strings.Contains(line, "INFO  merge: rules loaded") || !strings.Contains(line, "rules=3") {
		t.Fatalf("unexpected console line %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("expected component to be lifted out of attributes, got %q", line)
	}
}

func TestConsoleLoggerLiftsBatchAndIdentityScope(t *testing.T) {
	logger, buf := newConsole(t, "info")

	ctx := services.WithIdentityID(services.WithBatchID(context.Background(), 7), 12)
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "ingest")).Info("observation recorded", logging.Int(logging.FieldRow, 2))
	logger.Info("batch failed", logging.Int64(logging.FieldBatchID, 9))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "ingest: observation recorded [batch 7 identity 12] row=2") {
		t.Fatalf("unexpected scoped line %q", lines[0])
	}
	if !strings.Contains(lines[1], "batch failed [batch 9]") {
		t.Fatalf("unexpected batch-only line %q", lines[1])
	}
	for _, key := range []string{"batch_id=", "identity_id="} {
		if strings.Contains(buf.String(), key) {
			t.Fatalf("expected %s to be lifted, got %q", key, buf.String())
		}
	}
}

func TestConsoleLoggerCollapsesDecisionAttrs(t *testing.T) {
	logger, buf := newConsole(t, "info")

	logger.Info("identity matched", logging.Args(append(
		logging.DecisionAttrs("identity_match", "existing", "score 0.91"),
		logging.Float64("score", 0.91),
	)...)...)

	line := buf.String()
	if !strings.Contains(line, "identity matched decision=identity_match:existing (score 0.91) score=0.91") {
		t.Fatalf("unexpected decision line %q", line)
	}
	if strings.Contains(line, "decision_reason=") {
		t.Fatalf("expected decision keys to be collapsed, got %q", line)
	}
}

func TestConsoleLoggerQuotesAndFlattensGroups(t *testing.T) {
	logger, buf := newConsole(t, "info")

	logger.WithGroup("geo").Info("cell resolved", slog.String("name", "Johan Sverdrup"), slog.Int("res", 7))
	logger.Error("write failed", logging.Error(errors.New("disk full")))

	out := buf.String()
	for _, want := range []string{`geo.name="Johan Sverdrup"`, "geo.res=7", `error="disk full"`, "ERROR write failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %q", want, out)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	logger, _ := newConsole(t, "invalid")
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug to be disabled")
	}
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected info to be enabled")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithBatchID(ctx, 123)
	ctx = services.WithIdentityID(ctx, 45)
	ctx = services.WithPhase(ctx, "merge")
	ctx = services.WithRequestID(ctx, "req-xyz")

	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WithContext(ctx, logger).Info("contextual log")

	out := buf.String()
	for _, want := range []string{`"batch_id":123`, `"identity_id":45`, `"phase":"merge"`, `"correlation_id":"req-xyz"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.WarnWithContext(logger, "row skipped", "row_skipped", logging.String(logging.FieldImpact, "row not ingested"))

	out := buf.String()
	if !strings.Contains(out, `"event_type":"row_skipped"`) {
		t.Fatalf("expected event_type, got %s", out)
	}
	if !strings.Contains(out, `"error_hint":"check logs for details"`) {
		t.Fatalf("expected default error_hint, got %s", out)
	}
	if strings.Count(out, `"impact"`) != 1 {
		t.Fatalf("expected caller-provided impact to be kept, got %s", out)
	}
}

func TestErrorWithContextKeepsCallerHint(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.ErrorWithContext(logger, "batch failed", "batch_failed", logging.String(logging.FieldErrorHint, "retry the batch"))

	out := buf.String()
	if !strings.Contains(out, `"error_hint":"retry the batch"`) || strings.Count(out, `"error_hint"`) != 1 {
		t.Fatalf("expected caller error_hint only, got %s", out)
	}
	if strings.Contains(out, `"impact"`) {
		t.Fatalf("error lines carry no default impact, got %s", out)
	}
}
