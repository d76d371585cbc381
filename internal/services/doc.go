// Package services defines shared utilities consumed by the training loop and
// the model adapters.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, step numbers, picked classes, stage
//     names, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that keep failures
//     classifiable (configuration vs external tool vs validation).
//
// The adapters that reach the Python model worker live in subpackages.
package services
