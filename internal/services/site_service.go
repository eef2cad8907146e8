package services

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/siteback/siteback-be/internal/models"
	"github.com/siteback/siteback-be/internal/transfer"
)

// SiteServiceProvider defines the interface for site services.
type SiteServiceProvider interface {
	GetAllSites() ([]models.Site, error)
	GetSiteByID(id string) (models.Site, error)
	CreateSite(input models.SiteInput) (models.Site, error)
	UpdateSite(id string, update models.SiteUpdate) (models.Site, error)
	DeleteSite(id string) error
	BuildTarget(site models.Site) (transfer.Target, error)
	TestConnection(ctx context.Context, id string) (bool, string)
}

// SiteService provides business logic for site management.
type SiteService struct {
	db           *sql.DB
	eventService EventServiceProvider
	backupBase   string

	// newClient builds transfer clients; tests substitute a fake.
	newClient func(transfer.Target) (transfer.Client, error)
}

// NewSiteService creates a new SiteService. backupBase is the directory
// snapshots default into for sites without an explicit local path.
func NewSiteService(db *sql.DB, eventService EventServiceProvider, backupBase string) *SiteService {
	return &SiteService{
		db:           db,
		eventService: eventService,
		backupBase:   backupBase,
		newClient:    transfer.NewClient,
	}
}

// GetAllSites retrieves every site, newest first, with its schedule and most
// recent run attached.
func (s *SiteService) GetAllSites() ([]models.Site, error) {
	rows, err := s.db.Query(`
		SELECT id, name, host, port, protocol, username, password, key_file, remote_path, local_backup_path, is_active, created_at, updated_at
		FROM sites ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []models.Site
	for rows.Next() {
		site, err := s.scanSite(rows)
		if err != nil {
			return nil, err
		}
		s.attachRelations(&site)
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// GetSiteByID retrieves a single site by its ID.
func (s *SiteService) GetSiteByID(id string) (models.Site, error) {
	row := s.db.QueryRow(`
		SELECT id, name, host, port, protocol, username, password, key_file, remote_path, local_backup_path, is_active, created_at, updated_at
		FROM sites WHERE id = ?`, id)
	site, err := s.scanSite(row)
	if err != nil {
		return models.Site{}, err
	}
	s.attachRelations(&site)
	return site, nil
}

// CreateSite validates and stores a new site.
func (s *SiteService) CreateSite(input models.SiteInput) (models.Site, error) {
	for field, value := range map[string]string{
		"name":       input.Name,
		"host":       input.Host,
		"protocol":   input.Protocol,
		"username":   input.Username,
		"remotePath": input.RemotePath,
	} {
		if strings.TrimSpace(value) == "" {
			return models.Site{}, fmt.Errorf("%w: %s is required", ErrInvalid, field)
		}
	}

	protocol, err := transfer.ParseProtocol(input.Protocol)
	if err != nil {
		return models.Site{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	port := input.Port
	if port == 0 {
		port = protocol.DefaultPort()
	}

	now := time.Now().UTC()
	site := models.Site{
		ID:              uuid.New().String(),
		Name:            input.Name,
		Host:            input.Host,
		Port:            port,
		Protocol:        string(protocol),
		Username:        input.Username,
		Password:        input.Password,
		KeyFile:         input.KeyFile,
		RemotePath:      input.RemotePath,
		LocalBackupPath: input.LocalBackupPath,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	stmt, err := s.db.Prepare(`
		INSERT INTO sites (id, name, host, port, protocol, username, password, key_file, remote_path, local_backup_path, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return models.Site{}, err
	}
	defer stmt.Close()

	_, err = stmt.Exec(site.ID, site.Name, site.Host, site.Port, site.Protocol, site.Username, site.Password, site.KeyFile, site.RemotePath, site.LocalBackupPath, site.IsActive, site.CreatedAt, site.UpdatedAt)
	if err != nil {
		return models.Site{}, fmt.Errorf("failed to write site to database: %w", err)
	}

	s.eventService.CreateEvent("site.create", "info", fmt.Sprintf("Site '%s' was added.", site.Name), &site.ID)
	log.Info().Str("site_id", site.ID).Str("host", site.Host).Str("protocol", site.Protocol).Msg("Site created")
	return s.GetSiteByID(site.ID)
}

// UpdateSite applies a partial update; nil fields keep their stored values.
func (s *SiteService) UpdateSite(id string, update models.SiteUpdate) (models.Site, error) {
	site, err := s.GetSiteByID(id)
	if err != nil {
		return models.Site{}, err
	}

	if update.Name != nil {
		site.Name = *update.Name
	}
	if update.Host != nil {
		site.Host = *update.Host
	}
	if update.Port != nil {
		site.Port = *update.Port
	}
	if update.Protocol != nil {
		protocol, err := transfer.ParseProtocol(*update.Protocol)
		if err != nil {
			return models.Site{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		site.Protocol = string(protocol)
	}
	if update.Username != nil {
		site.Username = *update.Username
	}
	if update.Password != nil {
		site.Password = *update.Password
	}
	if update.KeyFile != nil {
		site.KeyFile = *update.KeyFile
	}
	if update.RemotePath != nil {
		site.RemotePath = *update.RemotePath
	}
	if update.LocalBackupPath != nil {
		site.LocalBackupPath = *update.LocalBackupPath
	}
	if update.IsActive != nil {
		site.IsActive = *update.IsActive
	}
	site.UpdatedAt = time.Now().UTC()

	stmt, err := s.db.Prepare(`
		UPDATE sites
		SET name = ?, host = ?, port = ?, protocol = ?, username = ?, password = ?, key_file = ?, remote_path = ?, local_backup_path = ?, is_active = ?, updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return models.Site{}, err
	}
	defer stmt.Close()

	_, err = stmt.Exec(site.Name, site.Host, site.Port, site.Protocol, site.Username, site.Password, site.KeyFile, site.RemotePath, site.LocalBackupPath, site.IsActive, site.UpdatedAt, id)
	if err != nil {
		return models.Site{}, err
	}
	return s.GetSiteByID(id)
}

// DeleteSite removes a site; schedules and run history cascade with it.
// Snapshot directories already on disk are kept.
func (s *SiteService) DeleteSite(id string) error {
	site, err := s.GetSiteByID(id)
	if err != nil {
		return fmt.Errorf("could not find site to delete: %w", err)
	}

	_, err = s.db.Exec("DELETE FROM sites WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete site from database: %w", err)
	}

	s.eventService.CreateEvent("site.delete", "warn", fmt.Sprintf("Site '%s' was deleted.", site.Name), nil)
	log.Info().Str("site_id", id).Str("site_name", site.Name).Msg("Site deleted")
	return nil
}

// BuildTarget maps a stored site onto the transfer engine's target record.
// Sites without an explicit local path snapshot under the base directory.
func (s *SiteService) BuildTarget(site models.Site) (transfer.Target, error) {
	protocol, err := transfer.ParseProtocol(site.Protocol)
	if err != nil {
		return transfer.Target{}, err
	}

	localRoot := site.LocalBackupPath
	if localRoot == "" {
		localRoot = filepath.Join(s.backupBase, site.ID)
	}

	return transfer.Target{
		Host:       site.Host,
		Port:       site.Port,
		Protocol:   protocol,
		Username:   site.Username,
		Password:   site.Password,
		KeyFile:    site.KeyFile,
		RemoteRoot: site.RemotePath,
		LocalRoot:  localRoot,
	}, nil
}

// TestConnection connects to a site's server and reports the outcome as a
// flag plus a human-readable message, never an error.
func (s *SiteService) TestConnection(ctx context.Context, id string) (bool, string) {
	site, err := s.GetSiteByID(id)
	if err != nil {
		return false, err.Error()
	}
	target, err := s.BuildTarget(site)
	if err != nil {
		return false, err.Error()
	}
	client, err := s.newClient(target)
	if err != nil {
		return false, err.Error()
	}
	return client.TestConnection(ctx)
}

// attachRelations fills the schedule and last-run fields read from their own
// tables, mirroring what site list/detail responses carry.
func (s *SiteService) attachRelations(site *models.Site) {
	row := s.db.QueryRow(`
		SELECT id, site_id, cron_expression, is_active, last_run_at, next_run_at, created_at
		FROM schedules WHERE site_id = ?`, site.ID)
	var schedule models.Schedule
	err := row.Scan(&schedule.ID, &schedule.SiteID, &schedule.CronExpression, &schedule.IsActive, &schedule.LastRunAt, &schedule.NextRunAt, &schedule.CreatedAt)
	switch err {
	case nil:
		site.Schedule = &schedule
	case sql.ErrNoRows:
	default:
		log.Warn().Err(err).Str("site_id", site.ID).Msg("Could not load schedule for site")
	}

	row = s.db.QueryRow(`
		SELECT id, site_id, status, started_at, completed_at, file_count, total_bytes, skipped_items, snapshot_path, error_message, pushed_provider, pushed_remote_id
		FROM backup_runs WHERE site_id = ? ORDER BY started_at DESC LIMIT 1`, site.ID)
	run, err := scanRun(row)
	switch err {
	case nil:
		site.LastRun = &run
	case sql.ErrNoRows:
	default:
		log.Warn().Err(err).Str("site_id", site.ID).Msg("Could not load last run for site")
	}
}

// scanSite reads one sites row into a model.
func (s *SiteService) scanSite(scanner interface{ Scan(...interface{}) error }) (models.Site, error) {
	var site models.Site
	err := scanner.Scan(
		&site.ID,
		&site.Name,
		&site.Host,
		&site.Port,
		&site.Protocol,
		&site.Username,
		&site.Password,
		&site.KeyFile,
		&site.RemotePath,
		&site.LocalBackupPath,
		&site.IsActive,
		&site.CreatedAt,
		&site.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Site{}, fmt.Errorf("%w: site", ErrNotFound)
		}
		return models.Site{}, err
	}
	site.PrepareForAPI()
	return site, nil
}
