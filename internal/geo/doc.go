// Package geo dissolves field outlines and maps them onto the hexagonal grid.
//
// Shapes are parsed and unioned with GEOS, traversed as orb geometries, and
// indexed with H3 cells at a fixed resolution. GEOS panics surface as
// services.GeometryError so a bad outline never takes down a batch.
package geo
