package ingest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"pyxis/internal/field"
)

// UnitConverter converts a magnitude between units. Conversion mechanics live
// outside pyxis; callers plug in whatever unit library they trust.
type UnitConverter interface {
	Convert(value float64, from, to string) (float64, error)
}

// ConverterFunc adapts a function to UnitConverter.
type ConverterFunc func(value float64, from, to string) (float64, error)

// Convert calls f.
func (f ConverterFunc) Convert(value float64, from, to string) (float64, error) {
	return f(value, from, to)
}

// ErrUnitMismatch reports a unit pair the converter cannot bridge.
var ErrUnitMismatch = errors.New("incompatible units")

// StrictUnits accepts values whose units already match the catalog and
// rejects everything else.
var StrictUnits UnitConverter = ConverterFunc(func(value float64, from, to string) (float64, error) {
	if sameUnit(from, to) {
		return value, nil
	}
	return 0, fmt.Errorf("%w: %s -> %s", ErrUnitMismatch, from, to)
})

func sameUnit(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// parseTyped converts raw cell text into a value of type t.
func parseTyped(raw string, t field.AttributeType, layout string) (field.Value, error) {
	raw = strings.TrimSpace(raw)
	switch t {
	case field.TypeString, field.TypeGeometry:
		return field.String(raw), nil
	case field.TypeInteger:
		f, err := parseNumber(raw)
		if err != nil {
			return field.Null(), err
		}
		return field.Integer(int64(math.Trunc(f))), nil
	case field.TypeNumber:
		f, err := parseNumber(raw)
		if err != nil {
			return field.Null(), err
		}
		return field.Number(f), nil
	case field.TypeBoolean:
		return parseBool(raw)
	case field.TypeDate:
		ts, err := parseTemporal(raw, layout)
		if err != nil {
			return field.Null(), err
		}
		return field.String(ts.Format(defaultDate)), nil
	case field.TypeDatetime:
		ts, err := parseTemporal(raw, layout)
		if err != nil {
			return field.Null(), err
		}
		return field.String(ts.Format(time.RFC3339)), nil
	default:
		return field.Null(), fmt.Errorf("unsupported attribute type %q", t)
	}
}

func parseNumber(raw string) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

func parseBool(raw string) (field.Value, error) {
	switch strings.ToLower(raw) {
	case "true", "yes", "y", "1", "t":
		return field.Bool(true), nil
	case "false", "no", "n", "0", "f":
		return field.Bool(false), nil
	default:
		return field.Null(), fmt.Errorf("not a boolean")
	}
}

// coerce converts an already typed value into the target attribute type.
func coerce(v field.Value, target field.Attribute) (field.Value, error) {
	switch target.Type {
	case field.TypeInteger:
		if i, ok := v.Int(); ok {
			return field.Integer(i), nil
		}
		if s, ok := v.Str(); ok {
			return parseTyped(s, field.TypeInteger, defaultDate)
		}
	case field.TypeNumber:
		if f, ok := v.Float(); ok {
			return field.Number(f), nil
		}
		if s, ok := v.Str(); ok {
			return parseTyped(s, field.TypeNumber, defaultDate)
		}
	case field.TypeBoolean:
		if b, ok := v.BoolValue(); ok {
			return field.Bool(b), nil
		}
		if i, ok := v.Int(); ok && v.Kind() == field.KindInteger {
			return field.Bool(i != 0), nil
		}
		if s, ok := v.Str(); ok {
			return parseBool(s)
		}
	case field.TypeString, field.TypeDate, field.TypeDatetime, field.TypeGeometry:
		s := v.String()
		if len(target.Options) > 0 {
			if !target.AllowsOption(s) {
				return field.Null(), fmt.Errorf("%q is not one of %s", s, strings.Join(target.Options, ", "))
			}
			s = target.CanonicalOption(s)
		}
		return field.String(s), nil
	}
	return field.Null(), fmt.Errorf("cannot use %s value as %s", v.Kind(), target.Type)
}
