package geo

import (
	"errors"
	"log/slog"

	"pyxis/internal/logging"
)

// Dissolved is the outcome of unioning an identity's observation shapes.
type Dissolved struct {
	Shape        *Shape
	WKB          []byte
	Latitude     float64
	Longitude    float64
	CentroidCell string
}

// Dissolver unions observation geometries and derives the centroid cell.
type Dissolver struct {
	logger     *slog.Logger
	resolution int
}

// NewDissolver constructs a dissolver at the given grid resolution.
func NewDissolver(logger *slog.Logger, resolution int) *Dissolver {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	return &Dissolver{
		logger:     logging.NewComponentLogger(logger, "geo"),
		resolution: resolution,
	}
}

// Resolution reports the configured grid resolution.
func (d *Dissolver) Resolution() int { return d.resolution }

// Dissolve normalizes every input, skipping unusable ones with a warning, and
// unions the rest. It returns nil without error when nothing usable remains.
func (d *Dissolver) Dissolve(inputs []any) (*Dissolved, error) {
	shapes := make([]*Shape, 0, len(inputs))
	for idx, raw := range inputs {
		shape, err := Normalize(raw)
		if err != nil {
			if !errors.Is(err, ErrEmpty) {
				logging.WarnWithContext(d.logger, "skipping unreadable geometry", "geometry_parse_failed",
					logging.Int("input_index", idx),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the geometry column encoding (WKT, WKB, or GeoJSON)"),
					logging.String(logging.FieldImpact, "shape excluded from the dissolved outline"),
				)
			}
			continue
		}
		shapes = append(shapes, shape)
	}
	if len(shapes) == 0 {
		return nil, nil
	}

	merged, err := Union(shapes)
	if err != nil {
		return nil, err
	}
	lat, lon, err := Centroid(merged)
	if err != nil {
		return nil, err
	}
	cell, err := CellOf(lat, lon, d.resolution)
	if err != nil {
		return nil, err
	}
	wkb, err := merged.WKB()
	if err != nil {
		return nil, err
	}
	d.logger.Debug("geometries dissolved",
		logging.Int("inputs", len(inputs)),
		logging.Int("usable", len(shapes)),
		logging.String("kind", merged.Kind()),
		logging.String("centroid_cell", cell),
	)
	return &Dissolved{
		Shape:        merged,
		WKB:          wkb,
		Latitude:     lat,
		Longitude:    lon,
		CentroidCell: cell,
	}, nil
}

// Fill returns covering cells at the dissolver's resolution.
func (d *Dissolver) Fill(s *Shape) ([]string, error) {
	return Fill(s, d.resolution)
}

// SameShape compares a stored WKB outline with a freshly dissolved one.
// Unreadable stored geometry counts as different.
func SameShape(stored []byte, candidate *Shape) bool {
	if len(stored) == 0 {
		return candidate == nil
	}
	if candidate == nil {
		return false
	}
	prev, err := Normalize(stored)
	if err != nil {
		return false
	}
	return prev.Equal(candidate)
}
