package field

import (
	"fmt"
	"sort"
	"strings"
)

// AttributeType is the declared type of a catalog or source attribute.
type AttributeType string

const (
	TypeString   AttributeType = "string"
	TypeInteger  AttributeType = "integer"
	TypeNumber   AttributeType = "number"
	TypeBoolean  AttributeType = "boolean"
	TypeDate     AttributeType = "date"
	TypeDatetime AttributeType = "datetime"
	TypeGeometry AttributeType = "geometry"
)

// ParseAttributeType converts a mapping-file type name into an AttributeType.
func ParseAttributeType(value string) (AttributeType, bool) {
	switch t := AttributeType(strings.ToLower(strings.TrimSpace(value))); t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeDate, TypeDatetime, TypeGeometry:
		return t, true
	default:
		return "", false
	}
}

// Numeric reports whether values of this type support arithmetic reductions.
func (t AttributeType) Numeric() bool {
	return t == TypeInteger || t == TypeNumber
}

// First-class observation attributes stored in dedicated columns.
const (
	AttrName      = "name"
	AttrCountry   = "country"
	AttrLatitude  = "latitude"
	AttrLongitude = "longitude"
	AttrGeometry  = "geometry"
	AttrValidFrom = "valid_from"
	AttrValidTo   = "valid_to"
	AttrOilProd   = "oil_prod"
)

// AdditionalPrefix marks mapping targets that land in the open-ended
// additional attribute map instead of a catalog attribute.
const AdditionalPrefix = "additional."

// Attribute describes one modeled field attribute.
type Attribute struct {
	Name        string
	Type        AttributeType
	Units       string
	Description string
	Options     []string
}

// AllowsOption reports whether value is an accepted category for enumerated attributes.
func (a Attribute) AllowsOption(value string) bool {
	if len(a.Options) == 0 {
		return true
	}
	for _, opt := range a.Options {
		if strings.EqualFold(opt, value) {
			return true
		}
	}
	return false
}

// CanonicalOption returns the catalog spelling of an enumerated value.
func (a Attribute) CanonicalOption(value string) string {
	for _, opt := range a.Options {
		if strings.EqualFold(opt, value) {
			return opt
		}
	}
	return value
}

var catalog = buildCatalog([]Attribute{
	{Name: AttrName, Type: TypeString, Description: "Field name"},
	{Name: AttrCountry, Type: TypeString, Description: "Country the field lies in"},
	{Name: AttrLatitude, Type: TypeNumber, Units: "degree", Description: "Latitude of the field"},
	{Name: AttrLongitude, Type: TypeNumber, Units: "degree", Description: "Longitude of the field"},
	{Name: AttrGeometry, Type: TypeGeometry, Description: "Field outline"},
	{Name: AttrValidFrom, Type: TypeDatetime, Description: "Start of the validity window"},
	{Name: AttrValidTo, Type: TypeDatetime, Description: "End of the validity window"},
	{Name: "functional_unit", Type: TypeString, Description: "Whether the field produces primarily oil or gas", Options: []string{"oil", "gas"}},
	{Name: "downhole_pump", Type: TypeBoolean, Description: "Whether the field uses downhole pumps"},
	{Name: "water_reinjection", Type: TypeBoolean, Description: "Whether the field uses water reinjection"},
	{Name: "natural_gas_reinjection", Type: TypeBoolean, Description: "Whether the field uses natural gas reinjection"},
	{Name: "water_flooding", Type: TypeBoolean, Description: "Whether the field uses water flooding"},
	{Name: "gas_lifting", Type: TypeBoolean, Description: "Whether the field uses gas lifting"},
	{Name: "gas_flooding", Type: TypeBoolean, Description: "Whether the field uses gas flooding"},
	{Name: "steam_flooding", Type: TypeBoolean, Description: "Whether the field uses steam flooding"},
	{Name: "oil_sands_mine_type", Type: TypeString, Description: "Type of oil sands mining operation", Options: []string{"None", "Integrated with upgrader", "Integrated with diluent", "Integrated with both"}},
	{Name: "age", Type: TypeNumber, Units: "year", Description: "Age of the field in years"},
	{Name: "depth", Type: TypeNumber, Units: "ft", Description: "Depth of the field"},
	{Name: AttrOilProd, Type: TypeNumber, Units: "bbl/d", Description: "Oil production volume"},
	{Name: "num_prod_wells", Type: TypeInteger, Description: "Number of producing wells"},
	{Name: "num_water_inj_wells", Type: TypeInteger, Description: "Number of water injecting wells"},
	{Name: "well_diam", Type: TypeNumber, Units: "in", Description: "Production tubing diameter"},
	{Name: "prod_index", Type: TypeNumber, Units: "bbl/(psi*d)", Description: "Productivity index"},
	{Name: "res_press", Type: TypeNumber, Units: "psi", Description: "Reservoir pressure"},
	{Name: "res_temp", Type: TypeNumber, Units: "degF", Description: "Reservoir temperature"},
	{Name: "offshore", Type: TypeBoolean, Description: "Whether the field is offshore"},
	{Name: "api", Type: TypeNumber, Units: "degAPI", Description: "API gravity of oil"},
	{Name: "gas_comp_n2", Type: TypeNumber, Units: "percent", Description: "N2 share of gas composition"},
	{Name: "gas_comp_co2", Type: TypeNumber, Units: "percent", Description: "CO2 share of gas composition"},
	{Name: "gas_comp_c1", Type: TypeNumber, Units: "percent", Description: "Methane share of gas composition"},
	{Name: "gas_comp_c2", Type: TypeNumber, Units: "percent", Description: "Ethane share of gas composition"},
	{Name: "gas_comp_c3", Type: TypeNumber, Units: "percent", Description: "Propane share of gas composition"},
	{Name: "gas_comp_c4", Type: TypeNumber, Units: "percent", Description: "Butane+ share of gas composition"},
	{Name: "gas_comp_h2s", Type: TypeNumber, Units: "percent", Description: "H2S share of gas composition"},
	{Name: "gor", Type: TypeNumber, Units: "scf/bbl", Description: "Gas-to-oil ratio"},
	{Name: "wor", Type: TypeNumber, Units: "bbl/bbl", Description: "Water-to-oil ratio"},
	{Name: "wir", Type: TypeNumber, Units: "bbl/bbl", Description: "Water injection ratio"},
	{Name: "glir", Type: TypeNumber, Units: "scf/bbl", Description: "Gas lifting injection ratio"},
	{Name: "gfir", Type: TypeNumber, Units: "scf/bbl", Description: "Gas flooding injection ratio"},
	{Name: "flood_gas_type", Type: TypeString, Description: "Type of gas used for flooding", Options: []string{"NG", "N2", "CO2"}},
	{Name: "frac_co2_breakthrough", Type: TypeNumber, Description: "Fraction of CO2 breaking through to producers"},
	{Name: "co2_source", Type: TypeString, Description: "Source of makeup CO2", Options: []string{"Natural subsurface reservoir", "Anthropogenic"}},
	{Name: "perc_sequestration_credit", Type: TypeNumber, Units: "percent", Description: "Sequestration credit assigned to the field"},
	{Name: "sor", Type: TypeNumber, Units: "bbl/bbl", Description: "Steam-to-oil ratio"},
	{Name: "fraction_elec_onsite", Type: TypeNumber, Description: "Fraction of fossil electricity generated onsite"},
	{Name: "fraction_remaining_gas_inj", Type: TypeNumber, Description: "Fraction of remaining natural gas reinjected"},
	{Name: "fraction_water_reinjected", Type: TypeNumber, Description: "Fraction of produced water reinjected"},
	{Name: "fraction_steam_cogen", Type: TypeNumber, Description: "Fraction of steam generated via cogeneration"},
	{Name: "fraction_steam_solar", Type: TypeNumber, Description: "Fraction of steam generated via solar thermal"},
	{Name: "heater_treater", Type: TypeBoolean, Description: "Whether a heater/treater is used"},
	{Name: "stabilizer_column", Type: TypeBoolean, Description: "Whether a stabilizer column is used"},
	{Name: "upgrader_type", Type: TypeString, Description: "Type of upgrader used", Options: []string{"None", "Delayed coking", "Hydroconversion", "Combined"}},
	{Name: "gas_processing_path", Type: TypeString, Description: "Associated gas processing path", Options: []string{"None", "Minimal", "Acid Gas", "Wet Gas", "Acid Wet Gas", "Sour Gas Reinjection", "CO2-EOR Membrane", "CO2-EOR Ryan Holmes"}},
	{Name: "for_value", Type: TypeNumber, Units: "scf/bbl", Description: "Flaring-to-oil ratio"},
	{Name: "frac_venting", Type: TypeNumber, Description: "Purposeful venting fraction"},
	{Name: "fraction_diluent", Type: TypeNumber, Description: "Volume fraction of diluent"},
	{Name: "ecosystem_richness", Type: TypeString, Description: "Ecosystem carbon richness", Options: []string{"Low carbon", "Med carbon", "High carbon"}},
	{Name: "field_development_intensity", Type: TypeString, Description: "Field development intensity", Options: []string{"Low", "Med", "High"}},
	{Name: "frac_transport_tanker", Type: TypeNumber, Description: "Fraction of product moved by ocean tanker"},
	{Name: "frac_transport_barge", Type: TypeNumber, Description: "Fraction of product moved by barge"},
	{Name: "frac_transport_pipeline", Type: TypeNumber, Description: "Fraction of product moved by pipeline"},
	{Name: "frac_transport_rail", Type: TypeNumber, Description: "Fraction of product moved by rail"},
	{Name: "frac_transport_truck", Type: TypeNumber, Description: "Fraction of product moved by truck"},
	{Name: "transport_dist_tanker", Type: TypeNumber, Units: "mi", Description: "Transport distance by ocean tanker"},
	{Name: "transport_dist_barge", Type: TypeNumber, Units: "mi", Description: "Transport distance by barge"},
	{Name: "transport_dist_pipeline", Type: TypeNumber, Units: "mi", Description: "Transport distance by pipeline"},
	{Name: "transport_dist_rail", Type: TypeNumber, Units: "mi", Description: "Transport distance by rail"},
	{Name: "transport_dist_truck", Type: TypeNumber, Units: "mi", Description: "Transport distance by truck"},
	{Name: "ocean_tanker_size", Type: TypeNumber, Units: "t", Description: "Ocean tanker size"},
	{Name: "small_sources_emissions", Type: TypeNumber, Description: "Small sources emissions"},
})

func buildCatalog(attrs []Attribute) map[string]Attribute {
	out := make(map[string]Attribute, len(attrs))
	for _, attr := range attrs {
		if _, dup := out[attr.Name]; dup {
			panic(fmt.Sprintf("duplicate catalog attribute %q", attr.Name))
		}
		out[attr.Name] = attr
	}
	return out
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Attribute, bool) {
	attr, ok := catalog[name]
	return attr, ok
}

// CatalogNames lists every modeled attribute in sorted order.
func CatalogNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsFirstClass reports attributes stored in dedicated observation columns
// rather than the typed attribute map.
func IsFirstClass(name string) bool {
	switch name {
	case AttrName, AttrCountry, AttrLatitude, AttrLongitude, AttrGeometry, AttrValidFrom, AttrValidTo:
		return true
	default:
		return false
	}
}

// IsAdditional reports whether a mapping target addresses the additional map,
// returning the bare attribute name.
func IsAdditional(target string) (string, bool) {
	if !strings.HasPrefix(target, AdditionalPrefix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(target, AdditionalPrefix))
	return name, name != ""
}
