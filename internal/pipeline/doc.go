// Package pipeline broadcasts the currently active job's state to status
// clients. The versioned in-memory snapshot lets many long-poll requests
// observe worker progress without touching the database; the job store
// stays the durable source of truth.
package pipeline
