package models

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Statuses a backup run moves through. A row is created as "running" and
// finalized exactly once.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// BackupRun is one execution record of a site backup.
type BackupRun struct {
	ID             string     `json:"id"`
	SiteID         string     `json:"siteId"`
	Status         string     `json:"status"` // e.g., "running", "success", "failed"
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt"`
	FileCount      int        `json:"fileCount"`
	TotalBytes     int64      `json:"totalBytes"`
	SkippedItems   int        `json:"skippedItems"`
	SnapshotPath   string     `json:"snapshotPath,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	PushedProvider string     `json:"pushedProvider,omitempty"`
	PushedRemoteID string     `json:"pushedRemoteId,omitempty"`

	// Derived presentation fields, filled by PrepareForAPI.
	SizeHuman       string  `json:"sizeHuman"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// PrepareForAPI computes the derived fields for API responses.
func (r *BackupRun) PrepareForAPI() {
	r.SizeHuman = humanize.Bytes(uint64(r.TotalBytes))
	if r.CompletedAt != nil {
		r.DurationSeconds = r.CompletedAt.Sub(r.StartedAt).Seconds()
	}
}
