// Package logging assembles the slog loggers used by the ivg daemon and CLI.
//
// It owns the console and JSON handlers, level and output plumbing, the
// standardized field keys (job_id, lane, error_kind, ...) and an in-memory
// StreamHub that mirrors recent log events to the HTTP API. Components obtain
// a tagged logger through NewComponentLogger; tests use NewNop.
package logging
