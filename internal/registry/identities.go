package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pyxis/internal/field"
	"pyxis/internal/services"
)

const identityColumns = "id, code, name, country, geometry, centroid_cell, attributes, created_at, updated_at"

func scanIdentity(scanner interface{ Scan(dest ...any) error }) (field.Identity, error) {
	var (
		identity   field.Identity
		name       sql.NullString
		country    sql.NullString
		geometry   []byte
		centroid   sql.NullString
		attributes sql.NullString
		created    dbTime
		updated    dbTime
	)
	if err := scanner.Scan(&identity.ID, &identity.Code, &name, &country, &geometry, &centroid, &attributes, &created, &updated); err != nil {
		return field.Identity{}, err
	}
	attrs, err := field.DecodeAttributes(attributes.String)
	if err != nil {
		return field.Identity{}, fmt.Errorf("decode attributes of identity %d: %w", identity.ID, err)
	}
	identity.Name = name.String
	identity.Country = country.String
	if len(geometry) > 0 {
		identity.Geometry = append([]byte(nil), geometry...)
	}
	identity.CentroidCell = centroid.String
	identity.Attributes = attrs
	identity.CreatedAt = created.Time
	identity.UpdatedAt = updated.Time
	return identity, nil
}

func (r reader) collectIdentities(ctx context.Context, query string, args ...any) ([]field.Identity, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []field.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	return out, rows.Err()
}

// GetIdentity loads one identity by id.
func (r reader) GetIdentity(ctx context.Context, id int64) (field.Identity, error) {
	identity, err := scanIdentity(r.queryRow(ctx, "SELECT "+identityColumns+" FROM field_identities WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return field.Identity{}, fmt.Errorf("%w: identity %d", services.ErrNotFound, id)
	}
	if err != nil {
		return field.Identity{}, services.Wrap(services.ErrPersistence, "registry", "get identity", "", err)
	}
	return identity, nil
}

// GetIdentityByCode loads one identity by its stable external code.
func (r reader) GetIdentityByCode(ctx context.Context, code string) (field.Identity, error) {
	identity, err := scanIdentity(r.queryRow(ctx, "SELECT "+identityColumns+" FROM field_identities WHERE code = ?", strings.TrimSpace(code)))
	if errors.Is(err, sql.ErrNoRows) {
		return field.Identity{}, fmt.Errorf("%w: identity %q", services.ErrNotFound, code)
	}
	if err != nil {
		return field.Identity{}, services.Wrap(services.ErrPersistence, "registry", "get identity", "", err)
	}
	return identity, nil
}

// ListIdentities returns identities matching filter ordered by id.
func (r reader) ListIdentities(ctx context.Context, filter Filter) ([]field.Identity, error) {
	var (
		clauses []string
		args    []any
	)
	if c := strings.TrimSpace(filter.Country); c != "" {
		clauses = append(clauses, "country = ?")
		args = append(args, c)
	}
	if n := strings.TrimSpace(filter.Name); n != "" {
		clauses = append(clauses, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(n)+"%")
	}
	query := "SELECT " + identityColumns + " FROM field_identities"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	out, err := r.collectIdentities(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "list identities", "", err)
	}
	return out, nil
}

// CountIdentities reports how many identities exist.
func (r reader) CountIdentities(ctx context.Context) (int, error) {
	var n int
	if err := r.queryRow(ctx, "SELECT COUNT(1) FROM field_identities").Scan(&n); err != nil {
		return 0, services.Wrap(services.ErrPersistence, "registry", "count identities", "", err)
	}
	return n, nil
}

// Candidates returns the identities a new observation may match. An empty
// country returns every identity.
func (t *Tx) Candidates(ctx context.Context, country string) ([]field.Identity, error) {
	country = strings.TrimSpace(country)
	query := "SELECT " + identityColumns + " FROM field_identities"
	var args []any
	if country != "" {
		query += " WHERE country = ?"
		args = append(args, country)
	}
	query += " ORDER BY id"
	out, err := t.collectIdentities(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "candidates", "load candidate identities", err)
	}
	return out, nil
}

// CreateIdentity inserts a new identity with a fresh external code. Only the
// matcher's no-match path creates identities.
func (t *Tx) CreateIdentity(ctx context.Context, seed NewIdentity) (field.Identity, error) {
	now := t.now().UTC()
	identity := field.Identity{
		Code:         uuid.NewString(),
		Name:         strings.TrimSpace(seed.Name),
		Country:      strings.TrimSpace(seed.Country),
		CentroidCell: seed.CentroidCell,
		Attributes:   field.Attributes{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := t.queryRow(ctx,
		`INSERT INTO field_identities (code, name, country, centroid_cell, attributes, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		identity.Code,
		nullableString(identity.Name),
		nullableString(identity.Country),
		nullableString(identity.CentroidCell),
		"{}",
		formatTime(now),
		formatTime(now),
	).Scan(&identity.ID)
	if err != nil {
		return field.Identity{}, services.Wrap(services.ErrPersistence, "registry", "create identity", "", err)
	}
	return identity, nil
}

// LockIdentity loads an identity for update. PostgreSQL takes a row lock;
// SQLite transactions already hold the database write lock.
func (t *Tx) LockIdentity(ctx context.Context, id int64) (field.Identity, error) {
	identity, err := scanIdentity(t.queryRow(ctx, "SELECT "+identityColumns+" FROM field_identities WHERE id = ?"+t.dialect.lockSuffix, id))
	if errors.Is(err, sql.ErrNoRows) {
		return field.Identity{}, fmt.Errorf("%w: identity %d", services.ErrNotFound, id)
	}
	if err != nil {
		return field.Identity{}, services.Wrap(services.ErrPersistence, "registry", "lock identity", "", err)
	}
	return identity, nil
}

// ApplyMerge persists a merge delta. Empty changes are a no-op and leave
// updated_at alone. A geometry change rewrites the outline, centroid cell and
// covering cell set together.
func (t *Tx) ApplyMerge(ctx context.Context, changes field.Changes) (field.Identity, error) {
	current, err := t.LockIdentity(ctx, changes.IdentityID)
	if err != nil {
		return field.Identity{}, err
	}
	if changes.Empty() {
		return current, nil
	}
	next := changes.Apply(current)
	next.UpdatedAt = t.now().UTC()
	encoded, err := next.Attributes.Encode()
	if err != nil {
		return field.Identity{}, services.Wrap(services.ErrPersistence, "registry", "apply merge", "encode attributes", err)
	}
	if _, err := t.exec(ctx,
		`UPDATE field_identities
         SET name = ?, country = ?, geometry = ?, centroid_cell = ?, attributes = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(next.Name),
		nullableString(next.Country),
		nullableBytes(next.Geometry),
		nullableString(next.CentroidCell),
		encoded,
		formatTime(next.UpdatedAt),
		next.ID,
	); err != nil {
		return field.Identity{}, services.Wrap(services.ErrPersistence, "registry", "apply merge", "update identity", err)
	}
	if changes.Geometry != nil {
		if err := t.replaceCells(ctx, next.ID, changes.Geometry.Cells); err != nil {
			return field.Identity{}, err
		}
	}
	return next, nil
}
