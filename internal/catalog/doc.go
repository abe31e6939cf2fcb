// Package catalog persists per-source pipeline status in SQLite for the
// status command and operator inspection.
//
// The catalog is advisory. The append-only ledgers decide what
// work is skipped on restart; the catalog only records what happened and
// when, so losing or clearing the database never changes pipeline behavior.
package catalog
