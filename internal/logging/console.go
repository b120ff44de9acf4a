package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one line per record:
//
//	Jan  2 15:04:05.000 INFO  ingest: batch completed [batch 7 identity 12] decision=identity_match:existing (score 0.91) rows=3
//
// The component becomes the message prefix, batch and identity ids become a
// bracketed scope, and the three decision keys collapse into one field.
type consoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	source bool
	prefix string
	fields []field
}

type field struct {
	key string
	val slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, source bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]field, len(h.fields), len(h.fields)+r.NumAttrs())
	copy(fields, h.fields)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, h.prefix, a)
		return true
	})

	var (
		component, batch, identity string
		decision                   [3]string
		rest                       = fields[:0]
	)
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			component = f.val.String()
		case FieldBatchID:
			batch = f.val.String()
		case FieldIdentityID:
			identity = f.val.String()
		case FieldDecisionType:
			decision[0] = f.val.String()
		case FieldDecisionResult:
			decision[1] = f.val.String()
		case FieldDecisionReason:
			decision[2] = f.val.String()
		default:
			rest = append(rest, f)
		}
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.Format(time.StampMilli))
	fmt.Fprintf(&b, " %-5s ", levelName(r.Level))
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(msg)

	if scope := scopeTag(batch, identity); scope != "" {
		b.WriteString(" [")
		b.WriteString(scope)
		b.WriteByte(']')
	}
	if decision[0] != "" || decision[1] != "" {
		b.WriteString(" decision=")
		b.WriteString(decision[0])
		if decision[1] != "" {
			b.WriteByte(':')
			b.WriteString(decision[1])
		}
		if decision[2] != "" {
			b.WriteString(" (")
			b.WriteString(decision[2])
			b.WriteByte(')')
		}
	}
	if h.source && r.PC != 0 {
		if src := r.Source(); src != nil {
			fmt.Fprintf(&b, " <%s:%d>", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range rest {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(consoleValue(f.val))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.fields = make([]field, len(h.fields), len(h.fields)+len(attrs))
	copy(next.fields, h.fields)
	for _, a := range attrs {
		next.fields = appendField(next.fields, h.prefix, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// appendField flattens groups into dotted keys.
func appendField(dst []field, prefix string, a slog.Attr) []field {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = appendField(dst, inner, ga)
		}
		return dst
	}
	return append(dst, field{key: prefix + a.Key, val: a.Value})
}

func scopeTag(batch, identity string) string {
	switch {
	case batch != "" && identity != "":
		return "batch " + batch + " identity " + identity
	case batch != "":
		return "batch " + batch
	case identity != "":
		return "identity " + identity
	}
	return ""
}

func consoleValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		return v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
