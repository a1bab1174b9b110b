// Package palette provides an offline image provider for development and tests.
package palette
