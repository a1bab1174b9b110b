// Package lanes routes queued jobs to per-kind worker pools so slow
// generation work never starves background removal, and the reverse.
package lanes
