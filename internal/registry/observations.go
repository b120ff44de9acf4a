package registry

import (
	"context"
	"database/sql"
	"fmt"

	"pyxis/internal/field"
	"pyxis/internal/services"
)

const observationColumns = "id, identity_id, batch_id, valid_from, valid_to, name, country, latitude, longitude, centroid_cell, attributes, additional, geometry, created_at"

func scanObservation(scanner interface{ Scan(dest ...any) error }) (field.Observation, error) {
	var (
		obs        field.Observation
		validFrom  dbTime
		validTo    dbTime
		name       sql.NullString
		country    sql.NullString
		latitude   sql.NullFloat64
		longitude  sql.NullFloat64
		centroid   sql.NullString
		attributes sql.NullString
		additional sql.NullString
		geometry   []byte
		created    dbTime
	)
	if err := scanner.Scan(&obs.ID, &obs.IdentityID, &obs.BatchID, &validFrom, &validTo, &name, &country,
		&latitude, &longitude, &centroid, &attributes, &additional, &geometry, &created); err != nil {
		return field.Observation{}, err
	}
	var err error
	if obs.Attributes, err = field.DecodeAttributes(attributes.String); err != nil {
		return field.Observation{}, fmt.Errorf("decode attributes of observation %d: %w", obs.ID, err)
	}
	if obs.Additional, err = field.DecodeAttributes(additional.String); err != nil {
		return field.Observation{}, fmt.Errorf("decode additional attributes of observation %d: %w", obs.ID, err)
	}
	obs.ValidFrom = validFrom.ptr()
	obs.ValidTo = validTo.ptr()
	obs.Name = name.String
	obs.Country = country.String
	if latitude.Valid {
		v := latitude.Float64
		obs.Latitude = &v
	}
	if longitude.Valid {
		v := longitude.Float64
		obs.Longitude = &v
	}
	obs.CentroidCell = centroid.String
	if len(geometry) > 0 {
		obs.Geometry = append([]byte(nil), geometry...)
	}
	obs.CreatedAt = created.Time
	return obs, nil
}

// InsertObservation stores an observation bound to its identity and batch.
// Observations are never updated afterwards.
func (t *Tx) InsertObservation(ctx context.Context, obs field.Observation) (field.Observation, error) {
	if obs.IdentityID == 0 || obs.BatchID == 0 {
		return field.Observation{}, fmt.Errorf("%w: observation requires identity and batch ids", services.ErrPersistence)
	}
	attributes, err := obs.Attributes.Encode()
	if err != nil {
		return field.Observation{}, services.Wrap(services.ErrPersistence, "registry", "insert observation", "encode attributes", err)
	}
	additional, err := obs.Additional.Encode()
	if err != nil {
		return field.Observation{}, services.Wrap(services.ErrPersistence, "registry", "insert observation", "encode additional attributes", err)
	}
	obs.CreatedAt = t.now().UTC()
	err = t.queryRow(ctx,
		`INSERT INTO field_observations (identity_id, batch_id, valid_from, valid_to, name, country, latitude, longitude,
             centroid_cell, attributes, additional, geometry, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		obs.IdentityID,
		obs.BatchID,
		nullableTime(obs.ValidFrom),
		nullableTime(obs.ValidTo),
		nullableString(obs.Name),
		nullableString(obs.Country),
		nullableFloat(obs.Latitude),
		nullableFloat(obs.Longitude),
		nullableString(obs.CentroidCell),
		attributes,
		additional,
		nullableBytes(obs.Geometry),
		formatTime(obs.CreatedAt),
	).Scan(&obs.ID)
	if err != nil {
		return field.Observation{}, services.Wrap(services.ErrPersistence, "registry", "insert observation", "", err)
	}
	return obs, nil
}

// ObservationsFor returns every observation of an identity in creation order.
func (r reader) ObservationsFor(ctx context.Context, identityID int64) ([]field.Observation, error) {
	rows, err := r.query(ctx, "SELECT "+observationColumns+" FROM field_observations WHERE identity_id = ? ORDER BY id", identityID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "observations", "", err)
	}
	defer rows.Close()
	var out []field.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrPersistence, "registry", "observations", "scan observation", err)
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "observations", "", err)
	}
	return out, nil
}

// ObservationCount reports how many observations a batch produced.
func (r reader) ObservationCount(ctx context.Context, batchID int64) (int, error) {
	var n int
	if err := r.queryRow(ctx, "SELECT COUNT(1) FROM field_observations WHERE batch_id = ?", batchID).Scan(&n); err != nil {
		return 0, services.Wrap(services.ErrPersistence, "registry", "observation count", "", err)
	}
	return n, nil
}
