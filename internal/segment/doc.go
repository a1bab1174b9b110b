// Package segment removes flat or near-flat backgrounds locally, without an
// external model.
package segment
