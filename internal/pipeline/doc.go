// Package pipeline turns a job's input into a stored output image.
//
// Background removal runs the local segmenter. Variations resolve a style,
// build the provider prompt with layout hints taken from the source, and call
// the provider gateway. Every successful run stores its PNG output and records
// a history entry; failures are returned classified for the job manager.
package pipeline
