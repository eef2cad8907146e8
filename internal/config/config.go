package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// OAuthApp holds one provider's application registration.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether the provider can be used at all.
func (a OAuthApp) Configured() bool {
	return a.ClientID != "" && a.ClientSecret != ""
}

// Config holds the application configuration.
type Config struct {
	ServerPort    int
	DatabasePath  string
	BackupBase    string // fallback root for site snapshots
	PublicBaseURL string // external URL this service is reachable at
	StateSecret   string // signs OAuth round-trip state tokens

	GoogleDrive OAuthApp
	OneDrive    OAuthApp
	Dropbox     OAuthApp
}

// Load loads configuration from environment variables or sets defaults.
func Load() (*Config, error) {
	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parsing PORT: %w", err)
	}

	cfg := &Config{
		ServerPort:    port,
		DatabasePath:  getEnv("DATABASE_PATH", "./siteback.db"),
		BackupBase:    getEnv("BACKUP_PATH", "./backups"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		StateSecret:   getEnv("STATE_SECRET", ""),
		GoogleDrive: OAuthApp{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		},
		OneDrive: OAuthApp{
			ClientID:     getEnv("ONEDRIVE_CLIENT_ID", ""),
			ClientSecret: getEnv("ONEDRIVE_CLIENT_SECRET", ""),
		},
		Dropbox: OAuthApp{
			ClientID:     getEnv("DROPBOX_CLIENT_ID", ""),
			ClientSecret: getEnv("DROPBOX_CLIENT_SECRET", ""),
		},
	}
	return cfg, nil
}

// RedirectURL is where providers send users back after consent.
func (c *Config) RedirectURL() string {
	return c.PublicBaseURL + "/api/v1/cloud/callback"
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
