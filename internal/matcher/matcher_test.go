package matcher_test

import (
	"math"
	"testing"

	"pyxis/internal/field"
	"pyxis/internal/geo"
	"pyxis/internal/logging"
	"pyxis/internal/matcher"
)

func mustCell(t *testing.T, lat, lon float64) string {
	t.Helper()
	cell, err := geo.CellOf(lat, lon, geo.DefaultResolution)
	if err != nil {
		t.Fatalf("CellOf failed: %v", err)
	}
	return cell
}

func newMatcher() *matcher.Matcher {
	return matcher.New(matcher.DefaultPolicy(), logging.NewNop())
}

func TestNameScore(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"Alpha Field", "Alpha Field", 100},
		{"Alpha Field", "ALPHA FIELD", 100},
		{"abc", "abd", 67},
		{"", "Alpha", 0},
		{"Alpha", "   ", 0},
		{"abc", "xyz", 0},
	}
	for _, tc := range cases {
		if got := matcher.NameScore(tc.a, tc.b); got != tc.want {
			t.Fatalf("NameScore(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestGeoScore(t *testing.T) {
	m := newMatcher()
	origin := mustCell(t, 30, 47)

	if got := m.GeoScore(origin, origin); got != 100 {
		t.Fatalf("expected 100 at distance 0, got %v", got)
	}
	if got := m.GeoScore("", ""); got != 0 {
		t.Fatalf("expected 0 when both cells are absent, got %v", got)
	}
	if got := m.GeoScore(origin, ""); got != -40 {
		t.Fatalf("expected penalty when one cell is absent, got %v", got)
	}

	far := mustCell(t, 31, 47)
	if got := m.GeoScore(origin, far); got != -40 {
		t.Fatalf("expected penalty beyond 50 cells, got %v", got)
	}

	ring, err := geo.GridDisk(origin, 1)
	if err != nil {
		t.Fatalf("GridDisk failed: %v", err)
	}
	var neighbor string
	for _, c := range ring {
		if c != origin {
			neighbor = c
			break
		}
	}
	want := 100 * math.Exp(-0.5*0.1*0.1)
	if got := m.GeoScore(origin, neighbor); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %v at distance 1, got %v", want, got)
	}
}

func TestMatchIdenticalNameAndCell(t *testing.T) {
	m := newMatcher()
	cell := mustCell(t, 30, 47)
	pool := []field.Identity{
		{ID: 1, Name: "Alpha Field", Country: "Iraq", CentroidCell: cell},
		{ID: 2, Name: "Rumaila North", Country: "Iraq", CentroidCell: mustCell(t, 30.5, 47.3)},
	}
	res := m.Match(matcher.Candidate{Name: "Alpha Field", Country: "Iraq", CentroidCell: cell}, pool)
	if !res.Matched() {
		t.Fatal("expected a match")
	}
	if res.Identity.ID != 1 {
		t.Fatalf("expected identity 1, got %d", res.Identity.ID)
	}
	if res.Best.Score != 100 {
		t.Fatalf("expected score 100, got %v", res.Best.Score)
	}
	if res.Tied() {
		t.Fatal("expected no tie")
	}
}

func TestMatchWithoutNameNeverMatches(t *testing.T) {
	m := newMatcher()
	cell := mustCell(t, 30, 47)
	pool := []field.Identity{{ID: 1, Name: "Alpha Field", CentroidCell: cell}}
	res := m.Match(matcher.Candidate{CentroidCell: cell}, pool)
	if res.Matched() {
		t.Fatal("expected no match for a nameless observation")
	}
	if res.Considered != 0 {
		t.Fatalf("expected short-circuit before scoring, considered %d", res.Considered)
	}
}

func TestMatchTieGoesToLowestID(t *testing.T) {
	m := newMatcher()
	cell := mustCell(t, 30, 47)
	pool := []field.Identity{
		{ID: 9, Name: "Alpha Field", CentroidCell: cell},
		{ID: 4, Name: "Alpha Field", CentroidCell: cell},
		{ID: 6, Name: "Alpha Field", CentroidCell: cell},
	}
	res := m.Match(matcher.Candidate{Name: "Alpha Field", CentroidCell: cell}, pool)
	if !res.Matched() || res.Identity.ID != 4 {
		t.Fatalf("expected identity 4, got %+v", res.Identity)
	}
	if !res.Tied() || len(res.TiedIDs) != 3 {
		t.Fatalf("expected a three-way tie, got %v", res.TiedIDs)
	}
}

func TestMatchCountryPrefilter(t *testing.T) {
	m := newMatcher()
	cell := mustCell(t, 30, 47)
	pool := []field.Identity{{ID: 1, Name: "Alpha Field", Country: "Kuwait", CentroidCell: cell}}
	res := m.Match(matcher.Candidate{Name: "Alpha Field", Country: "Iraq", CentroidCell: cell}, pool)
	if res.Matched() {
		t.Fatal("expected identities from other countries to be ignored")
	}

	res = m.Match(matcher.Candidate{Name: "Alpha Field", CentroidCell: cell}, pool)
	if !res.Matched() {
		t.Fatal("expected a match when the observation has no country")
	}
}

func TestMatchBelowThreshold(t *testing.T) {
	m := newMatcher()
	pool := []field.Identity{{ID: 1, Name: "Alpha Field", CentroidCell: mustCell(t, 30, 47)}}
	res := m.Match(matcher.Candidate{Name: "Alpha Field", CentroidCell: mustCell(t, 35, 47)}, pool)
	if res.Matched() {
		t.Fatalf("expected far-apart namesake to stay unmatched, score %v", res.Best.Score)
	}
	if res.Best.Score != 0.7*100+0.3*-40 {
		t.Fatalf("unexpected score %v", res.Best.Score)
	}
}

func TestPolicyNormalization(t *testing.T) {
	m := matcher.New(matcher.Policy{}, nil)
	p := m.Policy()
	want := matcher.DefaultPolicy()
	if p.NameWeight != want.NameWeight || p.GeoWeight != want.GeoWeight || p.Threshold != want.Threshold {
		t.Fatalf("unexpected normalized policy %+v", p)
	}
	if p.FarPenalty != -40 || p.MaxGridDistance != 50 {
		t.Fatalf("unexpected distance settings %+v", p)
	}
}
