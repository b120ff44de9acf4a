package field

// GeometryChange replaces an identity's outline together with its centroid
// cell and covering cell set.
type GeometryChange struct {
	WKB          []byte
	CentroidCell string
	Cells        []string
}

// Changes is the delta a merge pass produced for one identity. Only values
// that differ from the stored identity are present.
type Changes struct {
	IdentityID int64
	Attributes Attributes
	Geometry   *GeometryChange
	// GeometrySkipped records why the outline was left untouched, if it was.
	GeometrySkipped error
}

// Empty reports whether there is nothing to persist.
func (c Changes) Empty() bool {
	return len(c.Attributes) == 0 && c.Geometry == nil
}

// Apply returns a copy of identity with the changes folded in.
func (c Changes) Apply(identity Identity) Identity {
	out := identity
	out.Attributes = identity.Attributes.Clone()
	for name, v := range c.Attributes {
		switch name {
		case AttrName:
			out.Name = v.String()
		case AttrCountry:
			out.Country = v.String()
		default:
			out.Attributes.Set(name, v)
		}
	}
	if c.Geometry != nil {
		out.Geometry = c.Geometry.WKB
		out.CentroidCell = c.Geometry.CentroidCell
	}
	return out
}
