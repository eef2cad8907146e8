package models

// Stats aggregates the dashboard counters across all sites and runs. Size
// totals only count successful runs.
type Stats struct {
	TotalSites     int    `json:"totalSites"`
	ActiveSites    int    `json:"activeSites"`
	TotalRuns      int    `json:"totalRuns"`
	SuccessfulRuns int    `json:"successfulRuns"`
	FailedRuns     int    `json:"failedRuns"`
	TotalSizeBytes int64  `json:"totalSizeBytes"`
	TotalSizeHuman string `json:"totalSizeHuman"`
}
