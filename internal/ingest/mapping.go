package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"

	"pyxis/internal/field"
	"pyxis/internal/services"
)

// Supported source file types.
const (
	FileTypeCSV       = "csv"
	FileTypeShapefile = "shapefile"
)

const (
	defaultDelimiter = ","
	defaultEncoding  = "utf-8"
	defaultCRS       = "EPSG:4326"
	defaultDate      = "2006-01-02"
)

// Mapping is the upload configuration that accompanies every batch. It
// declares the source columns, where each lands in the field model, and how
// to read the file.
type Mapping struct {
	ConfigMetadata *ConfigMetadata `json:"config_metadata,omitempty"`
	Data           DataMetadata    `json:"data_metadata"`
	Spatial        *Spatial        `json:"spatial_configuration,omitempty"`
	Temporal       *Temporal       `json:"temporal_configuration,omitempty"`
	FileSpecific   *FileSpecific   `json:"file_specific,omitempty"`
	Mappings       []ColumnMapping `json:"mappings"`

	sources map[string]SourceAttribute
}

// ConfigMetadata describes the mapping file itself.
type ConfigMetadata struct {
	CreatedAt string `json:"created_at,omitempty"`
	Author    string `json:"author,omitempty"`
	SchemaID  string `json:"schema_id,omitempty"`
}

// DataMetadata describes the data source and its columns.
type DataMetadata struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        string            `json:"type"`
	Version     string            `json:"version"`
	Attributes  []SourceAttribute `json:"attributes"`
}

// SourceAttribute declares one source column.
type SourceAttribute struct {
	Name        string `json:"name"`
	Units       string `json:"units,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
}

// Spatial names the column holding row geometries.
type Spatial struct {
	Enabled       bool   `json:"enabled"`
	GeometryField string `json:"geometry_field,omitempty"`
	SourceCRS     string `json:"source_crs,omitempty"`
}

// Temporal names the validity window columns. Layout is a Go time layout;
// defaults apply when a row leaves the column empty.
type Temporal struct {
	ValidFromField   string `json:"valid_from_field,omitempty"`
	ValidToField     string `json:"valid_to_field,omitempty"`
	Layout           string `json:"layout,omitempty"`
	DefaultValidFrom string `json:"default_valid_from,omitempty"`
	DefaultValidTo   string `json:"default_valid_to,omitempty"`
}

// FileSpecific carries reader options per file type.
type FileSpecific struct {
	CSV *CSVOptions `json:"csv,omitempty"`
}

// CSVOptions configure the CSV row source.
type CSVOptions struct {
	Delimiter string `json:"delimiter,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	HeaderRow int    `json:"header_row,omitempty"`
}

// ColumnMapping routes a source column to a catalog attribute or, with the
// "additional." prefix, to the open-ended attribute map.
type ColumnMapping struct {
	SourceAttribute string `json:"source_attribute"`
	TargetAttribute string `json:"target_attribute"`
}

// ParseMapping decodes and validates a mapping document.
func ParseMapping(data []byte) (*Mapping, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &services.ConfigError{Field: "mapping", Reason: "mapping is empty"}
	}
	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &services.ConfigError{Field: "mapping", Reason: "invalid JSON: " + err.Error()}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the mapping against the attribute catalog. All problems are
// reported together.
func (m *Mapping) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &services.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	switch strings.ToLower(strings.TrimSpace(m.Data.Type)) {
	case FileTypeCSV:
	case FileTypeShapefile:
		fail("data_metadata.type", "shapefile sources are not supported")
	default:
		fail("data_metadata.type", "unknown file type %q", m.Data.Type)
	}

	m.sources = make(map[string]SourceAttribute, len(m.Data.Attributes))
	for i, attr := range m.Data.Attributes {
		key := fmt.Sprintf("data_metadata.attributes[%d]", i)
		name := strings.TrimSpace(attr.Name)
		if name == "" {
			fail(key, "name is required")
			continue
		}
		if _, ok := field.ParseAttributeType(attr.Type); !ok {
			fail(key, "unknown type %q for %s", attr.Type, name)
			continue
		}
		if _, dup := m.sources[name]; dup {
			fail(key, "duplicate source attribute %q", name)
			continue
		}
		m.sources[name] = attr
	}

	if len(m.Mappings) == 0 {
		fail("mappings", "at least one mapping is required")
	}
	targets := make(map[string]string, len(m.Mappings))
	for i, cm := range m.Mappings {
		key := fmt.Sprintf("mappings[%d]", i)
		source := strings.TrimSpace(cm.SourceAttribute)
		target := strings.TrimSpace(cm.TargetAttribute)
		if _, ok := m.sources[source]; !ok {
			fail(key, "source attribute %q is not declared in data_metadata.attributes", source)
		}
		if _, ok := field.Lookup(target); !ok {
			if _, additional := field.IsAdditional(target); !additional {
				fail(key, "target %q is neither a catalog attribute nor %s<name>", target, field.AdditionalPrefix)
				continue
			}
		}
		if prev, dup := targets[target]; dup {
			fail(key, "target %q is already mapped from %q", target, prev)
			continue
		}
		targets[target] = source
	}

	if m.Spatial != nil && m.Spatial.Enabled {
		if _, ok := m.sources[m.GeometryColumn()]; !ok {
			fail("spatial_configuration.geometry_field", "column %q is not declared", m.GeometryColumn())
		}
		if crs := strings.TrimSpace(m.Spatial.SourceCRS); crs != "" && !strings.EqualFold(crs, defaultCRS) {
			fail("spatial_configuration.source_crs", "only %s is supported, got %q", defaultCRS, crs)
		}
	}

	if t := m.Temporal; t != nil {
		for _, def := range []struct{ key, value string }{
			{"temporal_configuration.default_valid_from", t.DefaultValidFrom},
			{"temporal_configuration.default_valid_to", t.DefaultValidTo},
		} {
			if strings.TrimSpace(def.value) == "" {
				continue
			}
			if _, err := parseTemporal(def.value, m.TimeLayout()); err != nil {
				fail(def.key, "%v", err)
			}
		}
	}

	opts := m.CSV()
	if utf8.RuneCountInString(opts.Delimiter) != 1 {
		fail("file_specific.csv.delimiter", "delimiter must be a single character, got %q", opts.Delimiter)
	}
	if opts.HeaderRow < 0 {
		fail("file_specific.csv.header_row", "must be >= 0")
	}
	if enc, err := ianaindex.IANA.Encoding(opts.Encoding); err != nil || enc == nil {
		fail("file_specific.csv.encoding", "unsupported encoding %q", opts.Encoding)
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return errors.Join(errs...)
	}
	return nil
}

// Source returns the declaration of a source column.
func (m *Mapping) Source(name string) (SourceAttribute, bool) {
	if m.sources == nil {
		m.sources = make(map[string]SourceAttribute, len(m.Data.Attributes))
		for _, attr := range m.Data.Attributes {
			m.sources[strings.TrimSpace(attr.Name)] = attr
		}
	}
	attr, ok := m.sources[name]
	return attr, ok
}

// GeometryColumn returns the source column holding geometries, or "" when the
// mapping carries none.
func (m *Mapping) GeometryColumn() string {
	if m.Spatial != nil && m.Spatial.Enabled {
		if col := strings.TrimSpace(m.Spatial.GeometryField); col != "" {
			return col
		}
		return field.AttrGeometry
	}
	for _, cm := range m.Mappings {
		if strings.TrimSpace(cm.TargetAttribute) == field.AttrGeometry {
			return strings.TrimSpace(cm.SourceAttribute)
		}
	}
	return ""
}

// CSV returns the CSV options with defaults applied.
func (m *Mapping) CSV() CSVOptions {
	opts := CSVOptions{Delimiter: defaultDelimiter, Encoding: defaultEncoding}
	if m.FileSpecific != nil && m.FileSpecific.CSV != nil {
		c := m.FileSpecific.CSV
		if c.Delimiter != "" {
			opts.Delimiter = c.Delimiter
		}
		if strings.TrimSpace(c.Encoding) != "" {
			opts.Encoding = strings.TrimSpace(c.Encoding)
		}
		opts.HeaderRow = c.HeaderRow
	}
	return opts
}

// TimeLayout returns the layout used for temporal columns.
func (m *Mapping) TimeLayout() string {
	if m.Temporal != nil && strings.TrimSpace(m.Temporal.Layout) != "" {
		return m.Temporal.Layout
	}
	return defaultDate
}

func parseTemporal(value, layout string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(layout, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q with layout %q", value, layout)
}
