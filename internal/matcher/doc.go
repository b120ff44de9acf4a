// Package matcher decides whether an incoming observation describes an
// already known field identity.
//
// Scores blend a fuzzy name ratio (0-100) with a Gaussian decay over the
// hexagonal grid distance between centroid cells. A far-apart pair earns a
// negative geo score so a shared name alone cannot merge distant fields.
// Selection is a full scan of the country-filtered pool; ties go to the
// lowest identity id so reruns are reproducible.
package matcher
