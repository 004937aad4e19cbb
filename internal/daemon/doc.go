// Package daemon wires the job store, worker, approval gate, and HTTP API
// into the long-running forestd process, guarded by a single-instance
// lock file.
package daemon
