package registry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pyxis/internal/config"
	"pyxis/internal/field"
	"pyxis/internal/geo"
	"pyxis/internal/registry"
	"pyxis/internal/services"
	"pyxis/internal/testsupport"
)

func TestOpenCreatesSchemaOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRegistry(t, cfg)
	if store.Driver() != config.DriverSQLite {
		t.Fatalf("expected sqlite driver, got %q", store.Driver())
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenRegistry(t, cfg)
	n, err := reopened.CountIdentities(context.Background())
	if err != nil {
		t.Fatalf("CountIdentities failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty registry, got %d identities", n)
	}
}

func TestBatchLifecycle(t *testing.T) {
	store := testsupport.MustOpenRegistry(t, testsupport.NewConfig(t))
	ctx := context.Background()

	b := testsupport.NewBatch(t, store, `{"columns":{}}`, "name\nA\n")
	if b.Status != registry.StatusPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != b.ID || claimed.Status != registry.StatusProcessing {
		t.Fatalf("unexpected claimed batch: %#v", claimed)
	}
	if claimed.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}
	if string(claimed.Payload) != "name\nA\n" {
		t.Fatalf("payload not round-tripped: %q", claimed.Payload)
	}

	if _, err := store.Claim(ctx, b.ID); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition claiming a processing batch, got %v", err)
	}
	if next, err := store.ClaimNext(ctx); err != nil || next != nil {
		t.Fatalf("expected nothing pending, got %#v, %v", next, err)
	}

	diags := []registry.Diagnostic{
		{Row: 3, Kind: registry.DiagnosticConversion, Attribute: "depth", Message: "not a number"},
		{Row: 1, Kind: registry.DiagnosticRow, Message: "empty row"},
	}
	if err := store.Fail(ctx, b.ID, "boom", diags); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	failed, err := store.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if failed.Status != registry.StatusFailed || failed.ErrorMessage != "boom" || failed.FinishedAt == nil {
		t.Fatalf("unexpected failed batch: %#v", failed)
	}
	got, err := store.Diagnostics(ctx, b.ID)
	if err != nil {
		t.Fatalf("Diagnostics failed: %v", err)
	}
	if len(got) != 2 || got[0].Row != 1 || got[1].Attribute != "depth" {
		t.Fatalf("unexpected diagnostics: %#v", got)
	}

	retried, err := store.Retry(ctx, b.ID)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if retried.Status != registry.StatusPending || retried.ErrorMessage != "" {
		t.Fatalf("unexpected retried batch: %#v", retried)
	}
	if got, _ := store.Diagnostics(ctx, b.ID); len(got) != 0 {
		t.Fatalf("expected diagnostics cleared, got %d", len(got))
	}
	if _, err := store.Retry(ctx, b.ID); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition retrying a pending batch, got %v", err)
	}
}

func TestClaimMissingBatch(t *testing.T) {
	store := testsupport.MustOpenRegistry(t, testsupport.NewConfig(t))
	if _, err := store.Claim(context.Background(), 42); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetStuckProcessing(t *testing.T) {
	store := testsupport.MustOpenRegistry(t, testsupport.NewConfig(t))
	ctx := context.Background()

	stuck := testsupport.NewBatch(t, store, `{}`, "a")
	waiting := testsupport.NewBatch(t, store, `{}`, "b")
	if _, err := store.Claim(ctx, stuck.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	n, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reset batch, got %d", n)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[registry.StatusFailed] != 1 || stats[registry.StatusPending] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
	pending, err := store.ListBatches(ctx, registry.StatusPending)
	if err != nil {
		t.Fatalf("ListBatches failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != waiting.ID || pending[0].Payload != nil {
		t.Fatalf("unexpected pending list: %#v", pending)
	}
}

func TestFindBatchesByChecksum(t *testing.T) {
	store := testsupport.MustOpenRegistry(t, testsupport.NewConfig(t))
	first := testsupport.NewBatch(t, store, `{}`, "a")
	testsupport.NewBatch(t, store, `{}`, "a")

	found, err := store.FindBatchesByChecksum(context.Background(), "data", "mapping")
	if err != nil {
		t.Fatalf("FindBatchesByChecksum failed: %v", err)
	}
	if len(found) != 2 || found[0].ID != first.ID {
		t.Fatalf("unexpected matches: %#v", found)
	}
	none, err := store.FindBatchesByChecksum(context.Background(), "other", "mapping")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no matches, got %#v, %v", none, err)
	}
}

func TestIdentityMergeAndCells(t *testing.T) {
	store := testsupport.MustOpenRegistry(t, testsupport.NewConfig(t))
	ctx := context.Background()
	b := testsupport.NewBatch(t, store, `{}`, "x")
	if _, err := store.Claim(ctx, b.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	cell, err := geo.CellOf(10, 20, 9)
	if err != nil {
		t.Fatalf("CellOf failed: %v", err)
	}
	neighbors, err := geo.GridDisk(cell, 1)
	if err != nil {
		t.Fatalf("GridDisk failed: %v", err)
	}

	var identity field.Identity
	err = store.WithTx(ctx, func(tx *registry.Tx) error {
		var err error
		identity, err = tx.CreateIdentity(ctx, registry.NewIdentity{Name: "Alpha", Country: "NO", CentroidCell: cell})
		if err != nil {
			return err
		}
		lat, lon := 10.0, 20.0
		obs, err := tx.InsertObservation(ctx, field.Observation{
			IdentityID: identity.ID,
			BatchID:    b.ID,
			Name:       "Alpha",
			Country:    "NO",
			Latitude:   &lat,
			Longitude:  &lon,
			Attributes: field.Attributes{"depth": field.Number(1200)},
			Additional: field.Attributes{"operator": field.String("Acme")},
		})
		if err != nil {
			return err
		}
		if obs.ID == 0 {
			return errors.New("expected observation id")
		}
		_, err = tx.ApplyMerge(ctx, field.Changes{
			IdentityID: identity.ID,
			Attributes: field.Attributes{"depth": field.Number(1200), field.AttrName: field.String("Alpha Field")},
			Geometry:   &field.GeometryChange{WKB: []byte{1, 2, 3}, CentroidCell: cell, Cells: neighbors},
		})
		if err != nil {
			return err
		}
		return tx.CompleteBatch(ctx, b.ID, registry.Completion{Rows: 1, TouchedIdentities: 1})
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	stored, err := store.GetIdentityByCode(ctx, identity.Code)
	if err != nil {
		t.Fatalf("GetIdentityByCode failed: %v", err)
	}
	if stored.Name != "Alpha Field" || !stored.Attributes.Get("depth").Equal(field.Number(1200)) {
		t.Fatalf("unexpected stored identity: %#v", stored)
	}
	if len(stored.Geometry) != 3 || stored.CentroidCell != cell {
		t.Fatalf("geometry not stored: %#v", stored)
	}

	cells, err := store.CellsFor(ctx, identity.ID)
	if err != nil {
		t.Fatalf("CellsFor failed: %v", err)
	}
	if len(cells) != len(neighbors) {
		t.Fatalf("expected %d cells, got %d", len(neighbors), len(cells))
	}

	observations, err := store.ObservationsFor(ctx, identity.ID)
	if err != nil {
		t.Fatalf("ObservationsFor failed: %v", err)
	}
	if len(observations) != 1 || observations[0].Additional.Get("operator").String() != "Acme" {
		t.Fatalf("unexpected observations: %#v", observations)
	}
	if observations[0].Latitude == nil || *observations[0].Latitude != 10 {
		t.Fatalf("latitude not round-tripped: %#v", observations[0])
	}

	done, err := store.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if done.Status != registry.StatusCompleted || done.Rows != 1 || done.TouchedIdentities != 1 {
		t.Fatalf("unexpected completed batch: %#v", done)
	}

	nearby, err := store.NearestIdentities(ctx, 10, 20, 9, 3, 5)
	if err != nil {
		t.Fatalf("NearestIdentities failed: %v", err)
	}
	if len(nearby) != 1 || nearby[0].Identity.ID != identity.ID || nearby[0].Distance != 0 {
		t.Fatalf("unexpected nearby: %#v", nearby)
	}
}

func TestApplyMergeEmptyLeavesIdentity(t *testing.T) {
	store := testsupport.MustOpenRegistry(t, testsupport.NewConfig(t))
	ctx := context.Background()
	var created, merged field.Identity
	err := store.WithTx(ctx, func(tx *registry.Tx) error {
		var err error
		if created, err = tx.CreateIdentity(ctx, registry.NewIdentity{Name: "Beta"}); err != nil {
			return err
		}
		merged, err = tx.ApplyMerge(ctx, field.Changes{IdentityID: created.ID})
		return err
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
	if !merged.UpdatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("expected updated_at untouched, got %v vs %v", merged.UpdatedAt, created.UpdatedAt)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	store := testsupport.MustOpenRegistry(t, testsupport.NewConfig(t))
	ctx := context.Background()
	sentinel := errors.New("abort")
	err := store.WithTx(ctx, func(tx *registry.Tx) error {
		if _, err := tx.CreateIdentity(ctx, registry.NewIdentity{Name: "Gamma", Country: "UK"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	n, err := store.CountIdentities(ctx)
	if err != nil {
		t.Fatalf("CountIdentities failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback to discard identity, got %d", n)
	}
}

func TestBatchSlotSerializesSQLiteBatches(t *testing.T) {
	store := testsupport.MustOpenRegistry(t, testsupport.NewConfig(t))

	release, err := store.AcquireBatchSlot(context.Background())
	if err != nil {
		t.Fatalf("AcquireBatchSlot failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := store.AcquireBatchSlot(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second acquire to wait until deadline, got %v", err)
	}

	release()
	again, err := store.AcquireBatchSlot(context.Background())
	if err != nil {
		t.Fatalf("AcquireBatchSlot after release failed: %v", err)
	}
	again()
}

func TestListIdentitiesFilters(t *testing.T) {
	store := testsupport.MustOpenRegistry(t, testsupport.NewConfig(t))
	ctx := context.Background()
	err := store.WithTx(ctx, func(tx *registry.Tx) error {
		for _, seed := range []registry.NewIdentity{
			{Name: "Johan Sverdrup", Country: "NO"},
			{Name: "Brent", Country: "UK"},
			{Name: "Johan Castberg", Country: "NO"},
		} {
			if _, err := tx.CreateIdentity(ctx, seed); err != nil {
				return err
			}
		}
		candidates, err := tx.Candidates(ctx, "NO")
		if err != nil {
			return err
		}
		if len(candidates) != 2 || candidates[0].Name != "Johan Sverdrup" {
			return fmt.Errorf("unexpected candidates: %#v", candidates)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	got, err := store.ListIdentities(ctx, registry.Filter{Name: "johan", Limit: 1})
	if err != nil {
		t.Fatalf("ListIdentities failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Johan Sverdrup" {
		t.Fatalf("unexpected identities: %#v", got)
	}
	if _, err := store.GetIdentity(ctx, 999); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to registry.Status
		ok       bool
	}{
		{registry.StatusPending, registry.StatusProcessing, true},
		{registry.StatusProcessing, registry.StatusCompleted, true},
		{registry.StatusProcessing, registry.StatusFailed, true},
		{registry.StatusFailed, registry.StatusPending, true},
		{registry.StatusCompleted, registry.StatusPending, false},
		{registry.StatusProcessing, registry.StatusPending, false},
		{registry.StatusPending, registry.StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := registry.CanTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
	if _, err := registry.ParseStatus("bogus"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestPostgresRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPostgres())
	store := testsupport.MustOpenRegistry(t, cfg)
	if store.Driver() != config.DriverPostgres {
		t.Fatalf("expected postgres driver, got %q", store.Driver())
	}
	ctx := context.Background()
	b := testsupport.NewBatch(t, store, `{}`, "a")
	if _, err := store.Claim(ctx, b.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := store.Fail(ctx, b.ID, "checked", nil); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
}
