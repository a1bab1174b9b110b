// Package preflight provides readiness checks for the filesystem paths and
// external services ivg depends on.
//
// The daemon runs RunAll at startup. A failed directory check aborts startup;
// other failures are logged and reported on /api/status so the operator can
// see why generations will fail.
package preflight
