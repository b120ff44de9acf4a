// Package merge reduces the observations of one field identity into its
// canonical attribute values.
//
// Each ruled attribute carries one Method from a closed set. Rules are parsed
// and validated once into an immutable RuleSet; the Engine holds the active set
// behind an atomic pointer so a reload never tears a merge in progress.
// Geometry has no rule: observation outlines are dissolved, re-centered and
// re-indexed by the geo package.
package merge
