// Package logging provides the slog configuration shared by the daemon and
// CLI: a console handler for terminals, a JSON handler for everything else,
// standardized field keys, and helpers that lift pipeline context (base,
// stage, lane, correlation ID) into log attributes.
package logging
