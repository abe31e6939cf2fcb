// Package config loads, normalizes, and validates the capflow configuration.
//
// Configuration is a single immutable value constructed once at startup and
// passed explicitly to every component. Sources, in order: compiled defaults,
// the TOML file, then environment overrides (optionally loaded from a .env
// file). Validation failures are fatal: the daemon refuses to watch with
// missing directories or a lane count that does not match the configured
// lane directories.
package config
