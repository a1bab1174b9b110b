// Command ivg runs the illustration variant generator daemon and talks to it
// over its HTTP API.
//
// `ivg daemon run` serves in the foreground; every other command is a thin
// client that uploads images, submits variation and background-removal jobs,
// follows job progress and browses styles and history.
package main
