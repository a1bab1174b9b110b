// Package gemini implements the image-edit provider backed by the Gemini API.
//
// Requests carry the rendered prompt, an optional style reference and the
// source image. Outside fast mode the source image is sent twice to anchor
// layout. SDK errors are translated into gateway.StatusError values so the
// gateway can decide whether to retry.
package gemini
