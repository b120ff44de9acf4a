// Package services defines shared error markers and context helpers consumed by
// the matcher, merge engine, registry, and ingestion worker.
//
// Key responsibilities:
//   - Context helpers that stamp batch IDs, identity IDs, phases, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper. Row-level markers
//     (conversion) are recovered locally; batch-level markers (persistence)
//     fail the batch.
//
// Use these helpers when wiring new ingestion logic so error classification
// stays uniform across the engine.
package services
