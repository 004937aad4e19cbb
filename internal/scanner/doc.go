// Package scanner defines the external image processing collaborator: the
// document extraction, background removal, and classification step is an
// opaque command the worker invokes per job.
package scanner
