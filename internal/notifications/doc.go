// Package notifications pushes operator alerts to ntfy.
//
// Two events are published: the provider circuit breaker opening (and later
// closing again), and a job ending in failure. Each can be switched off in
// config.toml, and the whole service degrades to a no-op when no topic is set.
package notifications
