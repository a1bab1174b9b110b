// Package config loads, normalizes, and validates ivg configuration data.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, applies an optional .env file and honours environment fallbacks
// such as GEMINI_API_KEY and DATABASE_URL. The Config type centralizes every
// knob the daemon and CLI need: lane sizing, provider resilience policy,
// segmentation thresholds and storage backend selection.
package config
