// Package services defines shared utilities consumed by the pipeline stage
// handlers.
//
// Key responsibilities:
//   - Context helpers that stamp source base names, stage names, lanes, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (external tool, validation, configuration, timeout, transient).
//
// Use these helpers when wiring new stage logic so operational behaviour
// stays uniform across the pipeline.
package services
