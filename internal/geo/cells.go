package geo

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/uber/h3-go/v4"

	"pyxis/internal/services"
)

// DefaultResolution is the fixed hexagonal grid resolution for centroid and
// coverage cells.
const DefaultResolution = 9

// ErrInvalidCell marks cell identifiers that do not decode to a valid index.
var ErrInvalidCell = errors.New("invalid cell")

// ParseCell decodes a hexadecimal cell identifier.
func ParseCell(value string) (h3.Cell, error) {
	text := strings.TrimSpace(value)
	if text == "" {
		return 0, ErrInvalidCell
	}
	cell := h3.Cell(h3.IndexFromString(text))
	if !cell.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCell, value)
	}
	return cell, nil
}

// CellOf returns the cell containing a latitude/longitude at resolution.
func CellOf(lat, lon float64, resolution int) (string, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", &services.GeometryError{Op: "cell", Err: fmt.Errorf("coordinate out of range: %f,%f", lat, lon)}
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), resolution)
	if err != nil {
		return "", &services.GeometryError{Op: "cell", Err: err}
	}
	return cell.String(), nil
}

// CellCenter returns the center coordinate of a cell.
func CellCenter(value string) (lat, lon float64, err error) {
	cell, err := ParseCell(value)
	if err != nil {
		return 0, 0, err
	}
	ll, err := h3.CellToLatLng(cell)
	if err != nil {
		return 0, 0, fmt.Errorf("cell center: %w", err)
	}
	return ll.Lat, ll.Lng, nil
}

// GridDistance counts cell hops between two cells of equal resolution.
func GridDistance(a, b string) (int, error) {
	ca, err := ParseCell(a)
	if err != nil {
		return 0, err
	}
	cb, err := ParseCell(b)
	if err != nil {
		return 0, err
	}
	if ca.Resolution() != cb.Resolution() {
		return 0, fmt.Errorf("grid distance: resolution mismatch %d != %d", ca.Resolution(), cb.Resolution())
	}
	d, err := h3.GridDistance(ca, cb)
	if err != nil {
		return 0, fmt.Errorf("grid distance: %w", err)
	}
	return d, nil
}

// GridDisk returns every cell within k hops of center, including center.
func GridDisk(center string, k int) ([]string, error) {
	cell, err := ParseCell(center)
	if err != nil {
		return nil, err
	}
	cells, err := h3.GridDisk(cell, k)
	if err != nil {
		return nil, fmt.Errorf("grid disk: %w", err)
	}
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.String())
	}
	return out, nil
}

// Fill returns the sorted set of cells covering a polygon or multipolygon.
// Any other geometry kind is rejected.
func Fill(s *Shape, resolution int) ([]string, error) {
	if s == nil || s.g == nil {
		return nil, &services.GeometryError{Op: "fill", Err: ErrEmpty}
	}
	g, err := toOrb(s)
	if err != nil {
		return nil, err
	}
	var polygons []orb.Polygon
	switch v := g.(type) {
	case orb.Polygon:
		polygons = []orb.Polygon{v}
	case orb.MultiPolygon:
		polygons = v
	default:
		return nil, &services.GeometryError{Op: "fill", Err: fmt.Errorf("unsupported geometry kind %s", s.Kind())}
	}

	seen := make(map[h3.Cell]struct{})
	for _, poly := range polygons {
		if len(poly) == 0 {
			continue
		}
		cells, err := h3.PolygonToCells(toGeoPolygon(poly), resolution)
		if err != nil {
			return nil, &services.GeometryError{Op: "fill", Err: err}
		}
		for _, c := range cells {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out, nil
}

func toGeoPolygon(poly orb.Polygon) h3.GeoPolygon {
	out := h3.GeoPolygon{GeoLoop: toGeoLoop(poly[0])}
	for _, hole := range poly[1:] {
		out.Holes = append(out.Holes, toGeoLoop(hole))
	}
	return out
}

func toGeoLoop(ring orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(ring))
	for i, pt := range ring {
		// Closing vertex duplicates the first.
		if i == len(ring)-1 && len(ring) > 1 && pt.Equal(ring[0]) {
			break
		}
		loop = append(loop, h3.NewLatLng(pt.Lat(), pt.Lon()))
	}
	return loop
}
