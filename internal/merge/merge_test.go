package merge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pyxis/internal/field"
	"pyxis/internal/geo"
	"pyxis/internal/logging"
	"pyxis/internal/merge"
	"pyxis/internal/services"
)

func samples(values ...field.Value) []merge.Sample {
	out := make([]merge.Sample, 0, len(values))
	for _, v := range values {
		out = append(out, merge.Sample{Value: v})
	}
	return out
}

func assertNumber(t *testing.T, got field.Value, want float64) {
	t.Helper()
	f, ok := got.Float()
	if !ok {
		t.Fatalf("expected numeric result, got %v", got)
	}
	if f != want {
		t.Fatalf("expected %v, got %v", want, f)
	}
}

func TestReduceMethods(t *testing.T) {
	ints := samples(field.Integer(10), field.Integer(20), field.Integer(30))

	assertNumber(t, merge.Reduce(merge.MethodAverage, ints, 2024), 20)
	assertNumber(t, merge.Reduce(merge.MethodMedian, ints, 2024), 20)
	assertNumber(t, merge.Reduce(merge.MethodSum, ints, 2024), 60)
	assertNumber(t, merge.Reduce(merge.MethodMin, ints, 2024), 10)
	assertNumber(t, merge.Reduce(merge.MethodMax, ints, 2024), 30)
	assertNumber(t, merge.Reduce(merge.MethodFirst, ints, 2024), 10)
	assertNumber(t, merge.Reduce(merge.MethodLast, ints, 2024), 30)

	if got := merge.Reduce(merge.MethodSum, ints, 2024); got.Kind() != field.KindInteger {
		t.Fatalf("expected integer sum of integers, got %v", got.Kind())
	}

	even := samples(field.Number(1), field.Number(4), field.Number(2), field.Number(3))
	assertNumber(t, merge.Reduce(merge.MethodMedian, even, 2024), 2.5)
}

func TestReduceMostFrequent(t *testing.T) {
	got := merge.Reduce(merge.MethodMostFrequent, samples(field.Integer(1), field.Integer(1), field.Integer(2)), 2024)
	assertNumber(t, got, 1)

	tie := merge.Reduce(merge.MethodMostFrequent, samples(field.String("oil"), field.String("gas"), field.String("oil"), field.String("gas")), 2024)
	if s, _ := tie.Str(); s != "gas" {
		t.Fatalf("expected tie to resolve to the smallest value, got %v", tie)
	}

	numTie := merge.Reduce(merge.MethodMostFrequent, samples(field.Integer(5), field.Integer(3)), 2024)
	assertNumber(t, numTie, 3)
}

func TestReduceAvgAge(t *testing.T) {
	got := merge.Reduce(merge.MethodAvgAge, samples(field.Integer(2000), field.Integer(2010)), 2024)
	if got.Kind() != field.KindInteger {
		t.Fatalf("expected integer age, got %v", got.Kind())
	}
	assertNumber(t, got, 19)
}

func TestReduceVolumeWeighted(t *testing.T) {
	in := []merge.Sample{
		{Value: field.Integer(10), Weight: field.Integer(1)},
		{Value: field.Integer(20), Weight: field.Integer(3)},
	}
	assertNumber(t, merge.Reduce(merge.MethodVolumeWeighted, in, 2024), 17.5)

	noWeights := samples(field.Integer(10), field.Integer(20))
	assertNumber(t, merge.Reduce(merge.MethodVolumeWeighted, noWeights, 2024), 15)

	zero := []merge.Sample{
		{Value: field.Integer(10), Weight: field.Integer(0)},
		{Value: field.Integer(30), Weight: field.Integer(0)},
	}
	assertNumber(t, merge.Reduce(merge.MethodVolumeWeighted, zero, 2024), 20)

	partial := []merge.Sample{
		{Value: field.Integer(10), Weight: field.Integer(2)},
		{Value: field.Integer(40)},
	}
	assertNumber(t, merge.Reduce(merge.MethodVolumeWeighted, partial, 2024), 10)
}

func TestReduceIgnoresNulls(t *testing.T) {
	if got := merge.Reduce(merge.MethodAverage, samples(field.Null(), field.Null()), 2024); !got.IsNull() {
		t.Fatalf("expected null for no values, got %v", got)
	}
	got := merge.Reduce(merge.MethodFirst, samples(field.Null(), field.String("b"), field.String("c")), 2024)
	if s, _ := got.Str(); s != "b" {
		t.Fatalf("expected first non-null value, got %v", got)
	}
}

func TestApplyRoundingTruncates(t *testing.T) {
	got := merge.ApplyRounding(field.Number(-2.7), merge.RoundInt)
	if got.Kind() != field.KindInteger {
		t.Fatalf("expected integer, got %v", got.Kind())
	}
	assertNumber(t, got, -2)
	if s := merge.ApplyRounding(field.String("x"), merge.RoundInt); s.Kind() != field.KindString {
		t.Fatal("expected non-numeric values to pass through")
	}
}

func TestParseMethod(t *testing.T) {
	for _, m := range merge.AllMethods() {
		parsed, err := merge.ParseMethod(m.String())
		if err != nil || parsed != m {
			t.Fatalf("ParseMethod(%q) = %v, %v", m.String(), parsed, err)
		}
	}
	if _, err := merge.ParseMethod("mode"); err == nil {
		t.Fatal("expected unknown method to fail")
	}
}

func TestNewRuleSetRejectsInvalidRules(t *testing.T) {
	cases := map[string]map[string]merge.RuleSpec{
		"unknown method": {"depth": {Method: "mode"}},
		"bad rounding":   {"depth": {Method: "average", Round: "ceil"}},
		"geometry":       {"geometry": {Method: "first"}},
		"non numeric":    {"offshore": {Method: "average"}},
		"string sum":     {"functional_unit": {Method: "sum"}},
	}
	for name, specs := range cases {
		_, err := merge.NewRuleSet(specs, merge.Options{})
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}

	if _, err := merge.NewRuleSet(nil, merge.Options{WeightAttribute: "offshore"}); err == nil {
		t.Fatal("expected non-numeric weight attribute to fail")
	}
}

func TestNewRuleSetAcceptsAdditionalAttributes(t *testing.T) {
	rules, err := merge.NewRuleSet(map[string]merge.RuleSpec{
		"reservoir_age_estimate": {Method: "average"},
		"depth":                  {Method: "average", Round: "int"},
	}, merge.Options{})
	if err != nil {
		t.Fatalf("NewRuleSet failed: %v", err)
	}
	if rules.Len() != 2 {
		t.Fatalf("expected 2 rules, got %d", rules.Len())
	}
	rule, ok := rules.Rule("depth")
	if !ok || rule.Round != merge.RoundInt {
		t.Fatalf("unexpected depth rule %+v", rule)
	}
	if rules.Options().WeightAttribute != field.AttrOilProd {
		t.Fatalf("expected default weight attribute, got %q", rules.Options().WeightAttribute)
	}
}

func mustRules(t *testing.T, specs map[string]merge.RuleSpec) *merge.RuleSet {
	t.Helper()
	rules, err := merge.NewRuleSet(specs, merge.Options{CurrentYear: 2024})
	if err != nil {
		t.Fatalf("NewRuleSet failed: %v", err)
	}
	return rules
}

func mustWKB(t *testing.T, wkt string) []byte {
	t.Helper()
	shape, err := geo.Normalize(wkt)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	wkb, err := shape.WKB()
	if err != nil {
		t.Fatalf("WKB failed: %v", err)
	}
	return wkb
}

func TestEngineMergeAttributes(t *testing.T) {
	engine := merge.NewEngine(mustRules(t, map[string]merge.RuleSpec{
		"name":   {Method: "most_frequent"},
		"depth":  {Method: "average"},
		"api":    {Method: "volume_weighted"},
		"age":    {Method: "avg_age", Round: "int"},
		"gor":    {Method: "last"},
		"custom": {Method: "first"},
	}), nil, logging.NewNop())

	identity := field.Identity{ID: 1, Name: "Alpha", Attributes: field.Attributes{"gor": field.Number(900)}}
	observations := []field.Observation{
		{ID: 3, IdentityID: 1, Name: "Alpha Field", Attributes: field.Attributes{"depth": field.Number(30), "api": field.Number(20), "oil_prod": field.Number(3), "age": field.Integer(2010), "gor": field.Number(900)}},
		{ID: 1, IdentityID: 1, Name: "Alpha Field", Attributes: field.Attributes{"depth": field.Number(10), "api": field.Number(10), "oil_prod": field.Number(1), "age": field.Integer(2000), "gor": field.Number(700)}, Additional: field.Attributes{"custom": field.String("x")}},
	}

	changes, err := engine.Merge(context.Background(), identity, observations)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if name, _ := changes.Attributes.Get("name").Str(); name != "Alpha Field" {
		t.Fatalf("unexpected name %v", changes.Attributes.Get("name"))
	}
	assertNumber(t, changes.Attributes.Get("depth"), 20)
	assertNumber(t, changes.Attributes.Get("api"), 17.5)
	assertNumber(t, changes.Attributes.Get("age"), 19)
	if custom, _ := changes.Attributes.Get("custom").Str(); custom != "x" {
		t.Fatalf("expected additional attribute to merge, got %v", changes.Attributes.Get("custom"))
	}
	if _, ok := changes.Attributes["gor"]; ok {
		t.Fatal("expected unchanged gor to be omitted (last observation by id has 900)")
	}
	if changes.Geometry != nil || changes.GeometrySkipped != nil {
		t.Fatalf("expected no geometry change, got %+v", changes)
	}
}

func TestEngineMergeIsIdempotent(t *testing.T) {
	engine := merge.NewEngine(mustRules(t, map[string]merge.RuleSpec{
		"depth": {Method: "average"},
	}), nil, logging.NewNop())

	square := mustWKB(t, "POLYGON((47 30, 47.01 30, 47.01 30.01, 47 30.01, 47 30))")
	identity := field.Identity{ID: 5}
	observations := []field.Observation{
		{ID: 1, IdentityID: 5, Attributes: field.Attributes{"depth": field.Integer(10)}, Geometry: square},
		{ID: 2, IdentityID: 5, Attributes: field.Attributes{"depth": field.Integer(30)}},
	}

	first, err := engine.Merge(context.Background(), identity, observations)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if first.Empty() {
		t.Fatal("expected first merge to produce changes")
	}
	if first.Geometry == nil || len(first.Geometry.Cells) == 0 {
		t.Fatalf("expected geometry with covering cells, got %+v", first.Geometry)
	}

	merged := first.Apply(identity)
	second, err := engine.Merge(context.Background(), merged, observations)
	if err != nil {
		t.Fatalf("second Merge failed: %v", err)
	}
	if !second.Empty() {
		t.Fatalf("expected idempotent re-merge, got %+v", second)
	}
}

func TestEngineMergeUnionsGeometry(t *testing.T) {
	engine := merge.NewEngine(mustRules(t, nil), geo.NewDissolver(logging.NewNop(), geo.DefaultResolution), logging.NewNop())
	left := mustWKB(t, "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))")
	right := mustWKB(t, "POLYGON((1 0, 2 0, 2 1, 1 1, 1 0))")

	changes, err := engine.Merge(context.Background(), field.Identity{ID: 2}, []field.Observation{
		{ID: 1, IdentityID: 2, Geometry: left},
		{ID: 2, IdentityID: 2, Geometry: right},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if changes.Geometry == nil {
		t.Fatalf("expected geometry change, skipped: %v", changes.GeometrySkipped)
	}
	want, err := geo.CellOf(0.5, 1, geo.DefaultResolution)
	if err != nil {
		t.Fatalf("CellOf failed: %v", err)
	}
	if changes.Geometry.CentroidCell != want {
		t.Fatalf("expected centroid cell %s, got %s", want, changes.Geometry.CentroidCell)
	}
	shape, err := geo.Normalize(changes.Geometry.WKB)
	if err != nil {
		t.Fatalf("Normalize merged WKB: %v", err)
	}
	if shape.Kind() != "polygon" {
		t.Fatalf("expected touching squares to dissolve into one polygon, got %s", shape.Kind())
	}
}

func TestEngineMergeSkipsBadGeometry(t *testing.T) {
	engine := merge.NewEngine(mustRules(t, map[string]merge.RuleSpec{"depth": {Method: "max"}}), nil, logging.NewNop())
	point := mustWKB(t, "POINT(47 30)")

	changes, err := engine.Merge(context.Background(), field.Identity{ID: 9}, []field.Observation{
		{ID: 1, IdentityID: 9, Geometry: point, Attributes: field.Attributes{"depth": field.Number(1200)}},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if changes.Geometry != nil {
		t.Fatal("expected geometry to be left unchanged")
	}
	if !errors.Is(changes.GeometrySkipped, services.ErrGeometry) {
		t.Fatalf("expected geometry error, got %v", changes.GeometrySkipped)
	}
	assertNumber(t, changes.Attributes.Get("depth"), 1200)
}

func TestEngineMergeRejectsForeignObservation(t *testing.T) {
	engine := merge.NewEngine(nil, nil, logging.NewNop())
	_, err := engine.Merge(context.Background(), field.Identity{ID: 1}, []field.Observation{{ID: 1, IdentityID: 2}})
	if err == nil {
		t.Fatal("expected error for observation of another identity")
	}
}

func TestEngineReloadAndClock(t *testing.T) {
	rules, err := merge.NewRuleSet(map[string]merge.RuleSpec{"age": {Method: "avg_age"}}, merge.Options{})
	if err != nil {
		t.Fatalf("NewRuleSet failed: %v", err)
	}
	clock := func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }
	engine := merge.NewEngine(rules, nil, logging.NewNop(), merge.WithClock(clock))

	obs := []field.Observation{{ID: 1, IdentityID: 1, Attributes: field.Attributes{"age": field.Integer(2000)}}}
	changes, err := engine.Merge(context.Background(), field.Identity{ID: 1}, obs)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	assertNumber(t, changes.Attributes.Get("age"), 30)

	engine.Reload(mustRules(t, map[string]merge.RuleSpec{"depth": {Method: "average"}}))
	if _, ok := engine.Rules().Rule("age"); ok {
		t.Fatal("expected reload to replace the rule set")
	}
	changes, err = engine.Merge(context.Background(), field.Identity{ID: 1}, obs)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !changes.Empty() {
		t.Fatalf("expected no changes under the new rules, got %+v", changes)
	}
}
