package testsupport

import (
	"context"
	"testing"

	"pyxis/internal/config"
	"pyxis/internal/logging"
	"pyxis/internal/registry"
)

// MustOpenRegistry opens a registry.Store for tests and registers cleanup.
func MustOpenRegistry(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewBatch submits a pending batch with the given mapping and payload.
func NewBatch(t testing.TB, store *registry.Store, mapping, payload string) *registry.Batch {
	t.Helper()

	b, err := store.CreateBatch(context.Background(), registry.NewBatch{
		FileName:        "fixture.csv",
		Mapping:         []byte(mapping),
		Payload:         []byte(payload),
		DataChecksum:    "data",
		MappingChecksum: "mapping",
	})
	if err != nil {
		t.Fatalf("store.CreateBatch: %v", err)
	}
	return b
}
