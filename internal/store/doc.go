// Package store persists assets, styles and generation history.
//
// The sqlite implementation shares its database file with the job table via
// OpenSQLite, RetryOnBusy and EnsureSchema. A Postgres implementation of the
// same contracts lives in pgstore.
package store
