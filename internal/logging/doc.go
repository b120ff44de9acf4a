// Package logging assembles structured slog loggers and formatting helpers used
// across Pyxis.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so ingestion and merge code can tag log
// lines with batch IDs, identity IDs, phases, and correlation IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
