package field

import (
	"strings"
	"time"
)

// Identity is the canonical, deduplicated record of a real-world field.
// Geometry and CentroidCell are always written together.
type Identity struct {
	ID           int64
	Code         string
	Name         string
	Country      string
	Geometry     []byte
	CentroidCell string
	Attributes   Attributes
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasGeometry reports whether a dissolved outline has been stored.
func (i Identity) HasGeometry() bool { return len(i.Geometry) > 0 }

// Value returns the stored value of a ruled attribute.
func (i Identity) Value(name string) Value {
	switch name {
	case AttrName:
		return optionalString(i.Name)
	case AttrCountry:
		return optionalString(i.Country)
	default:
		return i.Attributes.Get(name)
	}
}

// Observation is one source's immutable view of a field, owned by exactly one
// identity.
type Observation struct {
	ID           int64
	IdentityID   int64
	BatchID      int64
	ValidFrom    *time.Time
	ValidTo      *time.Time
	Name         string
	Country      string
	Latitude     *float64
	Longitude    *float64
	CentroidCell string
	Attributes   Attributes
	Additional   Attributes
	Geometry     []byte
	CreatedAt    time.Time
}

// Value resolves an attribute by name across first-class columns, the typed
// attribute map, and the additional map, in that order.
func (o Observation) Value(name string) Value {
	switch name {
	case AttrName:
		return optionalString(o.Name)
	case AttrCountry:
		return optionalString(o.Country)
	case AttrLatitude:
		return optionalFloat(o.Latitude)
	case AttrLongitude:
		return optionalFloat(o.Longitude)
	}
	if v := o.Attributes.Get(name); !v.IsNull() {
		return v
	}
	return o.Additional.Get(name)
}

// HasLocation reports whether both coordinates are present.
func (o Observation) HasLocation() bool {
	return o.Latitude != nil && o.Longitude != nil
}

func optionalString(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Value{}
	}
	return String(s)
}

func optionalFloat(f *float64) Value {
	if f == nil {
		return Value{}
	}
	return Number(*f)
}
