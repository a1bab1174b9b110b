// Package api is the HTTP surface of the daemon and the client the CLI uses
// to talk to it.
//
// Routes live under /api and are served by a chi router. Every request is
// scoped to the owner named in the X-IVG-Owner header (anonymous when absent)
// and, when a token is configured, must carry it as a bearer token. Job
// progress can be followed over /api/jobs/{id}/stream as server-sent events,
// one JSON snapshot per event with the job sequence as the event id.
//
// Error responses are JSON objects of the form {"error": "...", "kind": "..."}
// where kind is the failure classification when one is known.
package api
