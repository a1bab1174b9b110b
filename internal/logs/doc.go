// Package logs reads the daemon's log files directly.
//
// The CLI uses it when the daemon API cannot be reached: Last returns the
// final lines of the current log, and Follow polls for lines appended after
// an offset until a deadline or context cancellation.
package logs
