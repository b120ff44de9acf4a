// Package field holds the domain types shared by the matcher, merge engine,
// registry, and ingestion orchestrator: typed attribute values, the attribute
// catalog, canonical identities, and per-source observations.
package field
