package services_test

import (
	"errors"
	"strings"
	"testing"

	"pyxis/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrPersistence, "merge", "apply", "write failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"merge", "apply", "write failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	conv := &services.ConversionError{Row: 3, Source: "Depth", Attribute: "depth", Value: "deep", Reason: "not a number"}
	if !errors.Is(conv, services.ErrConversion) {
		t.Fatal("expected conversion error to match ErrConversion")
	}
	if !strings.Contains(conv.Error(), "row 3") {
		t.Fatalf("unexpected message %q", conv.Error())
	}

	cfgErr := &services.ConfigError{Field: "merge.rules.depth", Reason: "unknown method"}
	if !errors.Is(cfgErr, services.ErrConfiguration) {
		t.Fatal("expected config error to match ErrConfiguration")
	}

	inner := errors.New("self-intersection")
	geomErr := &services.GeometryError{Op: "union", Err: inner}
	if !errors.Is(geomErr, services.ErrGeometry) || !errors.Is(geomErr, inner) {
		t.Fatalf("expected geometry error to match marker and cause: %v", geomErr)
	}
}

func TestCategory(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{&services.ConfigError{Reason: "x"}, "config"},
		{services.Wrap(services.ErrNotFound, "registry", "get", "", nil), "not_found"},
		{&services.GeometryError{Op: "fill"}, "geometry"},
		{errors.New("disk full"), "persistence"},
	}
	for _, tc := range cases {
		if got := services.Category(tc.err); got != tc.want {
			t.Fatalf("Category(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
