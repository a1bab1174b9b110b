// Package faults defines the failure taxonomy shared by the gateway, the
// pipeline and the job manager.
//
// Every failure that can end a job is classified by Kind. Errors carry their
// classification through wrapping (errors.As on *Error or any error exposing
// ErrorKind), so the job manager can persist a structured {kind, message}
// detail without knowing which component produced it.
package faults
