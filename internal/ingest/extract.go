package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pyxis/internal/field"
	"pyxis/internal/geo"
	"pyxis/internal/logging"
	"pyxis/internal/services"
)

// AttributeResult is the outcome of converting one mapped column: a value, or
// the reason it was skipped.
type AttributeResult struct {
	Source    string
	Attribute string
	Value     field.Value
	Err       error
}

// Extraction is a row converted into an unbound observation plus the
// per-attribute results that produced it.
type Extraction struct {
	Row         int
	Observation field.Observation
	Results     []AttributeResult
}

// Failures returns the results that were skipped.
func (e Extraction) Failures() []AttributeResult {
	var out []AttributeResult
	for _, r := range e.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Extractor turns source rows into observations.
type Extractor struct {
	units      UnitConverter
	resolution int
	logger     *slog.Logger
}

// NewExtractor builds an extractor. A nil converter only accepts matching units.
func NewExtractor(units UnitConverter, resolution int, logger *slog.Logger) *Extractor {
	if units == nil {
		units = StrictUnits
	}
	if resolution <= 0 {
		resolution = geo.DefaultResolution
	}
	return &Extractor{units: units, resolution: resolution, logger: logging.NewComponentLogger(logger, "ingest")}
}

// Extract converts every mapped column of row. Conversion failures are
// recorded on the result and the attribute is left unset; they never fail the
// row.
func (x *Extractor) Extract(row Row, m *Mapping) Extraction {
	ex := Extraction{Row: row.Number}
	obs := &ex.Observation
	obs.Attributes = field.Attributes{}
	obs.Additional = field.Attributes{}
	layout := m.TimeLayout()
	geometryColumn := m.GeometryColumn()

	for _, cm := range m.Mappings {
		source := strings.TrimSpace(cm.SourceAttribute)
		target := strings.TrimSpace(cm.TargetAttribute)
		if target == field.AttrGeometry || (source == geometryColumn && geometryColumn != "") {
			continue
		}
		raw := row.Value(source)
		if raw == "" {
			continue
		}
		res := AttributeResult{Source: source, Attribute: target}
		res.Value, res.Err = x.convert(raw, source, target, m, layout)
		if res.Err != nil {
			res.Err = &services.ConversionError{Row: row.Number, Source: source, Attribute: target, Value: raw, Reason: res.Err.Error()}
			ex.Results = append(ex.Results, res)
			continue
		}
		if err := assign(obs, target, res.Value); err != nil {
			res.Err = &services.ConversionError{Row: row.Number, Source: source, Attribute: target, Value: raw, Reason: err.Error()}
		}
		ex.Results = append(ex.Results, res)
	}

	x.applyTemporal(&ex, row, m)
	if geometryColumn != "" {
		x.applyGeometry(&ex, row, geometryColumn)
	}
	x.deriveCell(&ex)
	return ex
}

func (x *Extractor) convert(raw, source, target string, m *Mapping, layout string) (field.Value, error) {
	src, ok := m.Source(source)
	if !ok {
		return field.Null(), fmt.Errorf("source column %q is not declared", source)
	}
	srcType, _ := field.ParseAttributeType(src.Type)
	v, err := parseTyped(raw, srcType, layout)
	if err != nil {
		return field.Null(), err
	}

	dest, catalogued := field.Lookup(target)
	if !catalogued {
		// additional attributes keep the declared source type and units
		return v, nil
	}
	if v.IsNumeric() && dest.Type.Numeric() && strings.TrimSpace(src.Units) != "" && strings.TrimSpace(dest.Units) != "" && !sameUnit(src.Units, dest.Units) {
		f, _ := v.Float()
		converted, err := x.units.Convert(f, src.Units, dest.Units)
		if err != nil {
			return field.Null(), err
		}
		v = field.Number(converted)
	}
	return coerce(v, dest)
}

func assign(obs *field.Observation, target string, v field.Value) error {
	if name, ok := field.IsAdditional(target); ok {
		obs.Additional.Set(name, v)
		return nil
	}
	switch target {
	case field.AttrName:
		obs.Name = v.String()
	case field.AttrCountry:
		obs.Country = v.String()
	case field.AttrLatitude:
		f, _ := v.Float()
		if f < -90 || f > 90 {
			return fmt.Errorf("latitude %v out of range", f)
		}
		obs.Latitude = &f
	case field.AttrLongitude:
		f, _ := v.Float()
		if f < -180 || f > 180 {
			return fmt.Errorf("longitude %v out of range", f)
		}
		obs.Longitude = &f
	case field.AttrValidFrom, field.AttrValidTo:
		ts, err := parseTemporal(v.String(), defaultDate)
		if err != nil {
			return err
		}
		if target == field.AttrValidFrom {
			obs.ValidFrom = &ts
		} else {
			obs.ValidTo = &ts
		}
	default:
		obs.Attributes.Set(target, v)
	}
	return nil
}

func (x *Extractor) applyTemporal(ex *Extraction, row Row, m *Mapping) {
	t := m.Temporal
	if t == nil {
		return
	}
	layout := m.TimeLayout()
	pick := func(column, fallback, attribute string) *time.Time {
		raw := ""
		if column = strings.TrimSpace(column); column != "" {
			raw = row.Value(column)
		}
		if raw == "" {
			raw = strings.TrimSpace(fallback)
		}
		if raw == "" {
			return nil
		}
		ts, err := parseTemporal(raw, layout)
		if err != nil {
			ex.Results = append(ex.Results, AttributeResult{
				Source:    column,
				Attribute: attribute,
				Err:       &services.ConversionError{Row: row.Number, Source: column, Attribute: attribute, Value: raw, Reason: err.Error()},
			})
			return nil
		}
		return &ts
	}
	if ex.Observation.ValidFrom == nil {
		ex.Observation.ValidFrom = pick(t.ValidFromField, t.DefaultValidFrom, field.AttrValidFrom)
	}
	if ex.Observation.ValidTo == nil {
		ex.Observation.ValidTo = pick(t.ValidToField, t.DefaultValidTo, field.AttrValidTo)
	}
}

func (x *Extractor) applyGeometry(ex *Extraction, row Row, column string) {
	raw := row.Value(column)
	if raw == "" {
		return
	}
	res := AttributeResult{Source: column, Attribute: field.AttrGeometry}
	shape, err := geo.Normalize(raw)
	if err == nil {
		ex.Observation.Geometry, err = shape.WKB()
	}
	switch {
	case errors.Is(err, geo.ErrEmpty):
		return
	case err != nil:
		res.Err = &services.GeometryError{Op: fmt.Sprintf("parse row %d", row.Number), Err: err}
		x.logger.Warn("row geometry skipped",
			logging.Int(logging.FieldRow, row.Number),
			logging.String("column", column),
			logging.Error(err),
			logging.String(logging.FieldEventType, "row_geometry_skipped"),
			logging.String(logging.FieldErrorHint, "supply WKT, GeoJSON, or hex WKB in EPSG:4326"),
		)
	default:
		res.Value = field.String(shape.Kind())
	}
	ex.Results = append(ex.Results, res)
}

// deriveCell sets the centroid cell from the coordinates, or from the centroid
// of the row geometry when coordinates are missing.
func (x *Extractor) deriveCell(ex *Extraction) {
	obs := &ex.Observation
	var (
		cell string
		err  error
	)
	switch {
	case obs.HasLocation():
		cell, err = geo.CellOf(*obs.Latitude, *obs.Longitude, x.resolution)
	case len(obs.Geometry) > 0:
		var shape *geo.Shape
		if shape, err = geo.Normalize(obs.Geometry); err == nil {
			var lat, lon float64
			if lat, lon, err = geo.Centroid(shape); err == nil {
				cell, err = geo.CellOf(lat, lon, x.resolution)
			}
		}
	default:
		return
	}
	if err != nil {
		ex.Results = append(ex.Results, AttributeResult{
			Attribute: "centroid_cell",
			Err:       &services.GeometryError{Op: fmt.Sprintf("index row %d", ex.Row), Err: err},
		})
		return
	}
	obs.CentroidCell = cell
}
