package models

import "time"

// CloudAccount is one connected cloud storage provider. The provider tag is
// the primary key; reconnecting a provider overwrites its stored tokens.
type CloudAccount struct {
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"-"` // Never expose tokens to the client
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"-"`
	ConnectedAt  time.Time `json:"connectedAt"`
}
