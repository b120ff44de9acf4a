package field

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind enumerates the value shapes an attribute can carry.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

// Value is a typed attribute value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Null() Value { return Value{} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) IsNumeric() bool { return v.kind == KindInteger || v.kind == KindNumber }

// Number returns a floating point value. NaN and infinities collapse to null.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{kind: KindNumber, f: f}
}

// Float returns the numeric content of integer and number values.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindNumber:
		return v.f, true
	default:
		return 0, false
	}
}

// Int returns the integer content, truncating numbers toward zero.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case KindInteger:
		return v.i, true
	case KindNumber:
		return int64(v.f), true
	default:
		return 0, false
	}
}

func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) BoolValue() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Equal reports semantic equality. Integer and number values compare by
// magnitude so a stored 20 equals a computed 20.0.
func (v Value) Equal(o Value) bool {
	if v.IsNumeric() && o.IsNumeric() {
		a, _ := v.Float()
		b, _ := o.Float()
		return a == b
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	default:
		return true
	}
}

// Compare orders values. Numbers compare numerically across integer and
// number kinds; otherwise values of different kinds order by kind.
func Compare(a, b Value) int {
	if a.IsNumeric() && b.IsNumeric() {
		x, _ := a.Float()
		y, _ := b.Float()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		}
		return 1
	case KindString:
		return strings.Compare(a.s, b.s)
	}
	return 0
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindNumber:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	default:
		return ""
	}
}

// Any returns the Go representation used for database drivers and templates.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInteger:
		return v.i
	case KindNumber:
		return v.f
	case KindString:
		return v.s
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		// Keep a fractional marker so the kind survives a round trip.
		s := strconv.FormatFloat(v.f, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return []byte(s), nil
	default:
		return json.Marshal(v.Any())
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts decoded JSON, driver values, and plain Go scalars.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Integer(int64(x)), nil
	case int32:
		return Integer(int64(x)), nil
	case int64:
		return Integer(x), nil
	case float32:
		return Number(float64(x)), nil
	case float64:
		return Number(x), nil
	case string:
		return String(x), nil
	case json.Number:
		text := x.String()
		if !strings.ContainsAny(text, ".eE") {
			if i, err := x.Int64(); err == nil {
				return Integer(i), nil
			}
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", text, err)
		}
		return Number(f), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Attributes maps attribute names to values.
type Attributes map[string]Value

// Get returns the value for name; missing names yield null.
func (a Attributes) Get(name string) Value {
	if a == nil {
		return Value{}
	}
	return a[name]
}

// Set stores a non-null value and deletes the key for null values.
func (a Attributes) Set(name string, v Value) {
	if v.IsNull() {
		delete(a, name)
		return
	}
	a[name] = v
}

func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Keys returns attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode serializes the map for storage. Nil and empty maps encode as "{}".
func (a Attributes) Encode() (string, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]Value(a))
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(data), nil
}

// DecodeAttributes parses the storage form produced by Encode.
func DecodeAttributes(raw string) (Attributes, error) {
	out := Attributes{}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return out, nil
	}
	var decoded map[string]Value
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	for k, v := range decoded {
		out.Set(k, v)
	}
	return out, nil
}
