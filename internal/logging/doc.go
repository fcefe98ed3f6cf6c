// Package logging assembles the structured slog loggers used across the
// server.
//
// It owns the console and JSON handlers, level parsing, and attribute helpers
// so components emit the same field names (job_id, info_id, component). The
// console handler colours levels only when writing to a terminal. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
