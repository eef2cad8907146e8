package models

import "time"

// Schedule represents the automated backup cadence for a site.
type Schedule struct {
	ID             string     `json:"id"`
	SiteID         string     `json:"siteId"`
	CronExpression string     `json:"cronExpression"` // e.g., "0 4 * * *" for 4 AM daily
	IsActive       bool       `json:"isActive"`
	LastRunAt      *time.Time `json:"lastRunAt"`
	NextRunAt      *time.Time `json:"nextRunAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}
