package models

import "time"

// Site represents a single remote website whose files get mirrored into
// timestamped local snapshots.
type Site struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	Protocol        string    `json:"protocol"` // e.g., "SFTP", "FTP"
	Username        string    `json:"username"`
	Password        string    `json:"-"` // Never expose this to the client
	KeyFile         string    `json:"-"` // Internal use
	HasPassword     bool      `json:"hasPassword"`
	HasKeyFile      bool      `json:"hasKeyFile"`
	RemotePath      string    `json:"remotePath"`
	LocalBackupPath string    `json:"localBackupPath,omitempty"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	// Populated for list/detail responses, not stored on the sites row.
	Schedule *Schedule  `json:"schedule,omitempty"`
	LastRun  *BackupRun `json:"lastRun,omitempty"`
}

// PrepareForAPI fills the credential presence flags so responses reveal
// whether a secret is configured without ever carrying the secret itself.
func (s *Site) PrepareForAPI() {
	s.HasPassword = s.Password != ""
	s.HasKeyFile = s.KeyFile != ""
}

// SiteInput is the write shape for creating a site. Secrets are accepted on
// input but never serialized back out.
type SiteInput struct {
	Name            string `json:"name"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Protocol        string `json:"protocol"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	KeyFile         string `json:"keyFile"`
	RemotePath      string `json:"remotePath"`
	LocalBackupPath string `json:"localBackupPath"`
}

// SiteUpdate is the partial write shape for updating a site; nil fields keep
// their stored values.
type SiteUpdate struct {
	Name            *string `json:"name"`
	Host            *string `json:"host"`
	Port            *int    `json:"port"`
	Protocol        *string `json:"protocol"`
	Username        *string `json:"username"`
	Password        *string `json:"password"`
	KeyFile         *string `json:"keyFile"`
	RemotePath      *string `json:"remotePath"`
	LocalBackupPath *string `json:"localBackupPath"`
	IsActive        *bool   `json:"isActive"`
}
