package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pyxis/internal/config"
)

// LogFileName is the JSON log written under paths.log_dir.
const LogFileName = "pyxis.log"

// Options configures a single-destination logger.
type Options struct {
	Level  string
	Format string    // console (default) or json
	Output io.Writer // defaults to os.Stderr
}

// New builds a logger writing to opts.Output. Debug level adds caller locations.
func New(opts Options) (*slog.Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := parseLevel(opts.Level)
	h, err := newHandler(out, opts.Format, level, level <= slog.LevelDebug)
	if err != nil {
		return nil, err
	}
	return slog.New(h), nil
}

// NewFromConfig logs to stderr in the configured format. When paths.log_dir is
// set every record is also appended as JSON to pyxis.log there, and older
// pyxis logs past logging.retention_days are pruned.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{})
	}
	level := parseLevel(cfg.Logging.Level)
	console, err := newHandler(os.Stderr, cfg.Logging.Format, level, level <= slog.LevelDebug)
	if err != nil {
		return nil, err
	}
	dir := strings.TrimSpace(cfg.Paths.LogDir)
	if dir == "" {
		return slog.New(console), nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	path := filepath.Join(dir, LogFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	logger := slog.New(fanout{console, newJSONHandler(file, level)})
	pruneLogs(logger, dir, path, cfg.Logging.RetentionDays)
	return logger, nil
}

func newHandler(w io.Writer, format string, level slog.Level, source bool) (slog.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		return newConsoleHandler(w, level, source), nil
	case "json":
		return newJSONHandler(w, level), nil
	}
	return nil, fmt.Errorf("log format: unsupported value %q", format)
}

// newJSONHandler writes UTC timestamps under "ts" and lower-case levels.
func newJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339Nano))
			case slog.LevelKey:
				return slog.String(slog.LevelKey, strings.ToLower(levelName(a.Value.Any().(slog.Level))))
			}
			return a
		},
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// fanout delivers each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
