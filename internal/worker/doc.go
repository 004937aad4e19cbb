// Package worker drives queued scan jobs through the pipeline state
// machine. A single loop claims the oldest queued job, runs the external
// scanner, and blocks after reaching review until the approval gate
// resolves the job, so at most one job is ever in flight.
package worker
