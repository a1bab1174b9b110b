// Package imaging decodes uploaded images, derives layout hints and renders
// the variation prompt sent to image providers.
package imaging
