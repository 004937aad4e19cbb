// Package api holds the JSON payload types of the daemon's HTTP surface
// and a small client used by the CLI.
package api
