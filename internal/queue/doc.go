// Package queue persists scan jobs and approved artifacts in SQLite and
// implements the job state machine, including the atomic claim-next
// operation the single worker relies on.
package queue
