// Package registry persists canonical field identities, their observations,
// covering hex cells, and the ingestion batches that produced them.
//
// One Store serves both SQLite (modernc.org/sqlite, the default) and
// PostgreSQL (lib/pq). Queries are written with ? placeholders and rebound
// per dialect. Read helpers are shared by Store and Tx; every identity write
// goes through a Tx so a batch lands atomically or not at all.
//
// Batches move pending -> processing -> completed | failed, and failed batches
// may be retried back to pending. Schema changes bump schemaVersion in
// schema.go; an existing database with another version is refused.
package registry
