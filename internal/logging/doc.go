// Package logging builds the structured slog loggers used across the
// daemon and CLI, with console and JSON output formats and shared
// attribute helpers.
package logging
