// Package jobs owns the lifecycle of variation and background removal jobs.
//
// A job is created queued, moves to running when an executor picks it up, and
// ends succeeded or failed. Transitions are persisted with a conditional
// update so terminal states can never be left, and every persisted
// transition bumps the job's sequence. The Manager runs jobs inline or hands
// them to a Dispatcher, and lets callers follow a job through Subscribe.
package jobs
