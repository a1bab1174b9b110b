// Package ipc is the CLI side of the daemon's HTTP API.
//
// The client attaches the bearer token and owner header to every call and
// decodes error bodies into *APIError so commands can report the daemon's
// error kind. Dial fails fast when the daemon is not listening.
package ipc
