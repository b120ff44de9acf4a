package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrConversion        = errors.New("conversion error")
	ErrGeometry          = errors.New("geometry error")
	ErrMatchAmbiguity    = errors.New("match ambiguity")
	ErrPersistence       = errors.New("persistence error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Wrap builds an error message that includes phase context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, phase, operation, message string, err error) error {
	detail := buildDetail(phase, operation, message)
	if marker == nil {
		marker = ErrPersistence
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ConversionError describes a single attribute that could not be coerced into
// its target type or unit. The attribute is skipped; the row continues.
type ConversionError struct {
	Row       int
	Source    string
	Attribute string
	Value     string
	Reason    string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("row %d: convert %s -> %s (%q): %s", e.Row, e.Source, e.Attribute, e.Value, e.Reason)
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrConversion
}

// ConfigError reports an invalid rule or mapping entry.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// GeometryError wraps failures while parsing, dissolving, or indexing shapes.
type GeometryError struct {
	Op  string
	Err error
}

func (e *GeometryError) Error() string {
	if e.Err == nil {
		return "geometry " + e.Op
	}
	return fmt.Sprintf("geometry %s: %v", e.Op, e.Err)
}

func (e *GeometryError) Unwrap() error { return e.Err }

func (e *GeometryError) Is(target error) bool {
	return target == ErrGeometry
}

// Category returns a short stable label for an error, used for metrics and
// batch diagnostics.
func Category(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConfiguration):
		return "config"
	case errors.Is(err, ErrConversion):
		return "conversion"
	case errors.Is(err, ErrGeometry):
		return "geometry"
	case errors.Is(err, ErrMatchAmbiguity):
		return "ambiguity"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "transition"
	default:
		return "persistence"
	}
}

func buildDetail(phase, operation, message string) string {
	parts := make([]string, 0, 3)
	if phase = strings.TrimSpace(phase); phase != "" {
		parts = append(parts, phase)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "engine failure"
	}
	return strings.Join(parts, ": ")
}
