package catalog

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status represents where a source file sits in its pipeline run.
type Status string

const (
	StatusPending      Status = "pending"
	StatusConverting   Status = "converting"
	StatusSplitting    Status = "splitting"
	StatusDistributing Status = "distributing"
	StatusUploading    Status = "uploading"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusConverting,
	StatusSplitting,
	StatusDistributing,
	StatusUploading,
	StatusCompleted,
	StatusFailed,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, status := range allStatuses {
		if s == status {
			return true
		}
	}
	return false
}

var titleCaser = cases.Title(language.English)

// Label returns the human-readable form used in status output.
func (s Status) Label() string {
	return titleCaser.String(strings.ReplaceAll(string(s), "_", " "))
}

// Item is one source file's catalog row. The catalog is advisory: resume
// decisions come from the ledgers, this exists for operators.
type Item struct {
	ID             int64
	SourcePath     string
	Base           string
	Status         Status
	ErrorMessage   string
	CorrelationID  string
	ChunksTotal    int
	ChunksUploaded int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Summary aggregates catalog counts per key lifecycle state.
type Summary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}
