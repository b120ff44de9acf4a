// Package config loads, normalizes, and validates Pyxis configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PYXIS_DATABASE_URL and PYXIS_LOG_LEVEL. The Config type centralizes every
// knob the worker and CLI need: storage backend, matcher weights, grid
// resolution, and the merge rule table.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
