// Package gateway wraps a single image-edit Provider with the resilience
// policy every provider call goes through: a per-attempt timeout, bounded
// exponential backoff with jitter for retryable failures, and a circuit
// breaker shared by all callers of the same Gateway.
//
// Failures leave the package classified with the faults taxonomy
// (provider_timeout, provider_transient, provider_permanent, breaker_open) so
// the job manager can record them without inspecting provider internals. The
// gateway never substitutes the source image for a failed edit.
package gateway
