// Package logging assembles structured slog loggers and formatting helpers used
// across groundseg.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so loop code tags log lines with the run,
// step, picked class, and stage. Run logs are teed into the run directory, and
// a no-op logger serves tests and wiring code that cannot fail.
package logging
