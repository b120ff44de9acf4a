package field_test

import (
	"testing"

	"pyxis/internal/field"
)

func TestValueEqualAcrossNumericKinds(t *testing.T) {
	if !field.Integer(20).Equal(field.Number(20)) {
		t.Fatal("expected integer 20 to equal number 20.0")
	}
	if field.Integer(20).Equal(field.String("20")) {
		t.Fatal("expected integer and string to differ")
	}
	if !field.Null().Equal(field.Value{}) {
		t.Fatal("expected null values to be equal")
	}
	if field.Bool(true).Equal(field.Bool(false)) {
		t.Fatal("expected true and false to differ")
	}
}

func TestNumberRejectsNaN(t *testing.T) {
	var zero float64
	if v := field.Number(zero / zero); !v.IsNull() {
		t.Fatalf("expected NaN to collapse to null, got %v", v)
	}
}

func TestCompareOrdersValues(t *testing.T) {
	cases := []struct {
		a, b field.Value
		want int
	}{
		{field.Integer(1), field.Number(1.5), -1},
		{field.Number(3), field.Integer(3), 0},
		{field.String("b"), field.String("a"), 1},
		{field.Bool(false), field.Bool(true), -1},
		{field.Bool(true), field.Integer(0), -1},
	}
	for _, tc := range cases {
		if got := field.Compare(tc.a, tc.b); got != tc.want {
			t.Fatalf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestAttributesEncodePreservesKinds(t *testing.T) {
	attrs := field.Attributes{}
	attrs.Set("depth", field.Number(20))
	attrs.Set("num_prod_wells", field.Integer(12))
	attrs.Set("offshore", field.Bool(true))
	attrs.Set("functional_unit", field.String("oil"))
	attrs.Set("ignored", field.Null())

	raw, err := attrs.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := field.DecodeAttributes(raw)
	if err != nil {
		t.Fatalf("DecodeAttributes failed: %v", err)
	}
	if len(decoded) != 4 {
		t.Fatalf("expected 4 attributes, got %d (%s)", len(decoded), raw)
	}
	if decoded["depth"].Kind() != field.KindNumber {
		t.Fatalf("expected depth to stay a number, got %s", decoded["depth"].Kind())
	}
	if decoded["num_prod_wells"].Kind() != field.KindInteger {
		t.Fatalf("expected well count to stay an integer, got %s", decoded["num_prod_wells"].Kind())
	}
	for _, key := range attrs.Keys() {
		if !decoded[key].Equal(attrs[key]) {
			t.Fatalf("attribute %s changed: %v -> %v", key, attrs[key], decoded[key])
		}
	}
}

func TestObservationValueResolution(t *testing.T) {
	lat := 30.5
	obs := field.Observation{
		Name:       "Alpha Field",
		Latitude:   &lat,
		Attributes: field.Attributes{"depth": field.Number(1200)},
		Additional: field.Attributes{"operator": field.String("Acme"), "depth": field.Number(1)},
	}
	if got := obs.Value(field.AttrName); !got.Equal(field.String("Alpha Field")) {
		t.Fatalf("unexpected name %v", got)
	}
	if got := obs.Value(field.AttrCountry); !got.IsNull() {
		t.Fatalf("expected empty country to be null, got %v", got)
	}
	if got := obs.Value("depth"); !got.Equal(field.Number(1200)) {
		t.Fatalf("expected typed attribute to win, got %v", got)
	}
	if got := obs.Value("operator"); !got.Equal(field.String("Acme")) {
		t.Fatalf("expected additional attribute, got %v", got)
	}
	if got := obs.Value(field.AttrLatitude); !got.Equal(field.Number(30.5)) {
		t.Fatalf("unexpected latitude %v", got)
	}
}

func TestCatalogLookup(t *testing.T) {
	attr, ok := field.Lookup("functional_unit")
	if !ok {
		t.Fatal("expected functional_unit in catalog")
	}
	if !attr.AllowsOption("OIL") || attr.CanonicalOption("OIL") != "oil" {
		t.Fatalf("unexpected option handling for %+v", attr)
	}
	if attr.AllowsOption("steam") {
		t.Fatal("expected unknown option to be rejected")
	}
	if name, ok := field.IsAdditional("additional.operator"); !ok || name != "operator" {
		t.Fatalf("unexpected additional parse %q %v", name, ok)
	}
	if _, ok := field.IsAdditional("additional."); ok {
		t.Fatal("expected empty additional name to be rejected")
	}
}
