package geo

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/twpayne/go-geos"

	"pyxis/internal/services"
)

// ErrEmpty marks inputs that carry no geometry at all. Callers skip them.
var ErrEmpty = errors.New("empty geometry")

// Shape is a planar geometry in EPSG:4326 lon/lat order.
type Shape struct {
	g *geos.Geom
}

// Kind returns a lower-case geometry type name.
func (s *Shape) Kind() string {
	if s == nil || s.g == nil {
		return ""
	}
	switch s.g.TypeID() {
	case geos.TypeIDPoint:
		return "point"
	case geos.TypeIDLineString:
		return "linestring"
	case geos.TypeIDLinearRing:
		return "linearring"
	case geos.TypeIDPolygon:
		return "polygon"
	case geos.TypeIDMultiPoint:
		return "multipoint"
	case geos.TypeIDMultiLineString:
		return "multilinestring"
	case geos.TypeIDMultiPolygon:
		return "multipolygon"
	default:
		return "geometrycollection"
	}
}

// WKB encodes the shape for storage.
func (s *Shape) WKB() ([]byte, error) {
	var out []byte
	err := guard("encode", func() error {
		out = s.g.ToWKB()
		return nil
	})
	return out, err
}

// WKT renders the shape for display.
func (s *Shape) WKT() string {
	var out string
	_ = guard("encode", func() error {
		out = s.g.ToWKT()
		return nil
	})
	return out
}

// Equal reports topological equality.
func (s *Shape) Equal(other *Shape) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	var eq bool
	if err := guard("compare", func() error {
		eq = s.g.Equals(other.g)
		return nil
	}); err != nil {
		return false
	}
	return eq
}

// Normalize parses any supported geometry representation: WKT or GeoJSON
// text, hex or binary WKB, orb geometries, GEOS geometries, and shapes.
// Blank input and the literal "None" return ErrEmpty.
func Normalize(raw any) (*Shape, error) {
	var g *geos.Geom
	err := guard("parse", func() error {
		parsed, err := parse(raw)
		if err != nil {
			return err
		}
		if parsed == nil || parsed.IsEmpty() {
			return ErrEmpty
		}
		if !parsed.IsValid() {
			parsed = parsed.MakeValid()
			if parsed == nil || parsed.IsEmpty() {
				return errors.New("geometry collapsed during repair")
			}
		}
		g = parsed
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEmpty) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	return &Shape{g: g}, nil
}

func parse(raw any) (*geos.Geom, error) {
	switch v := raw.(type) {
	case nil:
		return nil, ErrEmpty
	case *Shape:
		if v == nil || v.g == nil {
			return nil, ErrEmpty
		}
		return v.g, nil
	case *geos.Geom:
		if v == nil {
			return nil, ErrEmpty
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return nil, ErrEmpty
		}
		return geos.NewGeomFromWKB(v)
	case orb.Geometry:
		data, err := wkb.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode orb geometry: %w", err)
		}
		return geos.NewGeomFromWKB(data)
	case string:
		return parseText(v)
	default:
		return nil, fmt.Errorf("unsupported geometry input %T", raw)
	}
}

func parseText(value string) (*geos.Geom, error) {
	text := strings.TrimSpace(value)
	if text == "" || strings.EqualFold(text, "none") || strings.EqualFold(text, "null") {
		return nil, ErrEmpty
	}
	if strings.HasPrefix(text, "{") {
		return geos.NewGeomFromGeoJSON(text)
	}
	if isHex(text) {
		data, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("decode hex wkb: %w", err)
		}
		return geos.NewGeomFromWKB(data)
	}
	return geos.NewGeomFromWKT(text)
}

func isHex(s string) bool {
	if len(s) < 18 || len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Union dissolves shapes into one. A single shape is returned unchanged.
func Union(shapes []*Shape) (*Shape, error) {
	var usable []*Shape
	for _, s := range shapes {
		if s != nil && s.g != nil {
			usable = append(usable, s)
		}
	}
	switch len(usable) {
	case 0:
		return nil, &services.GeometryError{Op: "union", Err: ErrEmpty}
	case 1:
		return usable[0], nil
	}
	var merged *geos.Geom
	err := guard("union", func() error {
		merged = usable[0].g
		for _, s := range usable[1:] {
			merged = merged.Union(s.g)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if merged == nil || merged.IsEmpty() {
		return nil, &services.GeometryError{Op: "union", Err: ErrEmpty}
	}
	return &Shape{g: merged}, nil
}

// Centroid returns the planar centroid as latitude and longitude.
func Centroid(s *Shape) (lat, lon float64, err error) {
	if s == nil || s.g == nil {
		return 0, 0, &services.GeometryError{Op: "centroid", Err: ErrEmpty}
	}
	err = guard("centroid", func() error {
		c := s.g.Centroid()
		if c == nil || c.IsEmpty() {
			return ErrEmpty
		}
		lon, lat = c.X(), c.Y()
		return nil
	})
	return lat, lon, err
}

// toOrb converts a shape into orb types for ring traversal.
func toOrb(s *Shape) (orb.Geometry, error) {
	data, err := s.WKB()
	if err != nil {
		return nil, err
	}
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, &services.GeometryError{Op: "decode", Err: err}
	}
	return g, nil
}

// guard runs op and converts GEOS panics into GeometryError values.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &services.GeometryError{Op: op, Err: fmt.Errorf("%v", r)}
		}
	}()
	if ferr := fn(); ferr != nil {
		var gerr *services.GeometryError
		if errors.As(ferr, &gerr) {
			return ferr
		}
		return &services.GeometryError{Op: op, Err: ferr}
	}
	return nil
}
