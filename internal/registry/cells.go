package registry

import (
	"context"
	"sort"
	"strings"

	"pyxis/internal/geo"
	"pyxis/internal/services"
)

const cellInsertChunk = 400

func (t *Tx) replaceCells(ctx context.Context, identityID int64, cells []string) error {
	if _, err := t.exec(ctx, "DELETE FROM field_cells WHERE identity_id = ?", identityID); err != nil {
		return services.Wrap(services.ErrPersistence, "registry", "apply merge", "clear cells", err)
	}
	for start := 0; start < len(cells); start += cellInsertChunk {
		end := min(start+cellInsertChunk, len(cells))
		chunk := cells[start:end]
		values := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*2)
		for _, cell := range chunk {
			values = append(values, "(?, ?)")
			args = append(args, identityID, cell)
		}
		query := "INSERT INTO field_cells (identity_id, cell) VALUES " + strings.Join(values, ", ")
		if _, err := t.exec(ctx, query, args...); err != nil {
			return services.Wrap(services.ErrPersistence, "registry", "apply merge", "insert cells", err)
		}
	}
	return nil
}

// CellsFor returns the covering cells of an identity, sorted.
func (r reader) CellsFor(ctx context.Context, identityID int64) ([]string, error) {
	rows, err := r.query(ctx, "SELECT cell FROM field_cells WHERE identity_id = ? ORDER BY cell", identityID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "cells", "", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var cell string
		if err := rows.Scan(&cell); err != nil {
			return nil, services.Wrap(services.ErrPersistence, "registry", "cells", "", err)
		}
		out = append(out, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "cells", "", err)
	}
	return out, nil
}

// NearestIdentities finds identities whose covering cells or centroid cell lie
// within ring cells of the point, nearest first, ties by id.
func (r reader) NearestIdentities(ctx context.Context, lat, lon float64, resolution, ring, limit int) ([]Nearby, error) {
	origin, err := geo.CellOf(lat, lon, resolution)
	if err != nil {
		return nil, err
	}
	disk, err := geo.GridDisk(origin, ring)
	if err != nil {
		return nil, err
	}

	hits := map[int64]string{}
	record := func(id int64, cell string) {
		prev, ok := hits[id]
		if !ok || distanceOrMax(origin, cell) < distanceOrMax(origin, prev) {
			hits[id] = cell
		}
	}
	for start := 0; start < len(disk); start += cellInsertChunk {
		chunk := disk[start:min(start+cellInsertChunk, len(disk))]
		args := make([]any, 0, len(chunk))
		for _, c := range chunk {
			args = append(args, c)
		}
		in := makePlaceholders(len(chunk))
		if err := r.scanCellHits(ctx, "SELECT identity_id, cell FROM field_cells WHERE cell IN ("+in+")", args, record); err != nil {
			return nil, err
		}
		if err := r.scanCellHits(ctx, "SELECT id, centroid_cell FROM field_identities WHERE centroid_cell IN ("+in+")", args, record); err != nil {
			return nil, err
		}
	}

	out := make([]Nearby, 0, len(hits))
	for id, cell := range hits {
		identity, err := r.GetIdentity(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, Nearby{Identity: identity, Distance: distanceOrMax(origin, cell)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Identity.ID < out[j].Identity.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r reader) scanCellHits(ctx context.Context, query string, args []any, record func(int64, string)) error {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return services.Wrap(services.ErrPersistence, "registry", "nearest", "", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			cell string
		)
		if err := rows.Scan(&id, &cell); err != nil {
			return services.Wrap(services.ErrPersistence, "registry", "nearest", "", err)
		}
		record(id, cell)
	}
	if err := rows.Err(); err != nil {
		return services.Wrap(services.ErrPersistence, "registry", "nearest", "", err)
	}
	return nil
}

func distanceOrMax(a, b string) int {
	d, err := geo.GridDistance(a, b)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return d
}

