// Package daemon coordinates the long-running ivg process.
//
// It wires configuration, the catalog store, the job manager, the pipeline
// engine and the worker lanes into a single lifecycle with flock-based
// locking so only one daemon serves a data directory. Jobs left behind by a
// previous process are reconciled on start, and breaker transitions and job
// failures are forwarded to the notification service.
//
// Keep orchestration here: pipeline steps live in internal/pipeline and HTTP
// handlers in internal/api.
package daemon
