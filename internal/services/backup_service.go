package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/siteback/siteback-be/internal/models"
	"github.com/siteback/siteback-be/internal/transfer"
	"github.com/siteback/siteback-be/internal/websocket"
)

// BackupServiceProvider defines the interface for backup run services.
type BackupServiceProvider interface {
	StartBackup(siteID string) (models.BackupRun, error)
	RunBackup(ctx context.Context, siteID string) (models.BackupRun, error)
	GetRunByID(runID string) (models.BackupRun, error)
	GetRunsForSite(siteID string) ([]models.BackupRun, error)
	GetRecentRuns() ([]models.BackupRun, error)
	GetStats() (models.Stats, error)
	RecordPush(runID, provider, remoteID string) error
}

// How much history the API hands out. Older rows stay in the database and
// still count toward stats.
const (
	siteHistoryLimit   = 50
	globalHistoryLimit = 100
)

// BackupService provides business logic for backup runs.
type BackupService struct {
	db           *sql.DB
	siteService  SiteServiceProvider
	eventService EventServiceProvider
	hub          *websocket.Hub

	// runSnapshot is swapped out in tests.
	runSnapshot func(ctx context.Context, target transfer.Target, onProgress transfer.ProgressFunc) transfer.Result

	mu     sync.Mutex
	active map[string]bool
}

// NewBackupService creates a new BackupService.
func NewBackupService(db *sql.DB, siteService SiteServiceProvider, eventService EventServiceProvider, hub *websocket.Hub) *BackupService {
	return &BackupService{
		db:           db,
		siteService:  siteService,
		eventService: eventService,
		hub:          hub,
		runSnapshot:  transfer.NewSnapshotter().Run,
		active:       make(map[string]bool),
	}
}

// StartBackup launches a backup in the background and returns the running
// record immediately. A second start for the same site while one is in
// flight returns ErrRunActive.
func (s *BackupService) StartBackup(siteID string) (models.BackupRun, error) {
	site, err := s.siteService.GetSiteByID(siteID)
	if err != nil {
		return models.BackupRun{}, err
	}
	if !s.acquire(site.ID) {
		return models.BackupRun{}, ErrRunActive
	}
	run, err := s.createRun(site.ID)
	if err != nil {
		s.release(site.ID)
		return models.BackupRun{}, err
	}
	go func() {
		defer s.release(site.ID)
		s.execute(context.Background(), site, run)
	}()
	return run, nil
}

// RunBackup performs a backup synchronously and returns the finished record.
// The scheduler uses this path.
func (s *BackupService) RunBackup(ctx context.Context, siteID string) (models.BackupRun, error) {
	site, err := s.siteService.GetSiteByID(siteID)
	if err != nil {
		return models.BackupRun{}, err
	}
	if !s.acquire(site.ID) {
		return models.BackupRun{}, ErrRunActive
	}
	defer s.release(site.ID)
	run, err := s.createRun(site.ID)
	if err != nil {
		return models.BackupRun{}, err
	}
	return s.execute(ctx, site, run), nil
}

// execute drives one run: transfer, result row, event, broadcasts. The
// caller holds the per-site slot for the whole call.
func (s *BackupService) execute(ctx context.Context, site models.Site, run models.BackupRun) models.BackupRun {
	log.Info().Str("site", site.Name).Str("run", run.ID).Msg("Backup run started")
	s.broadcast("backup_started", run)

	var result transfer.Result
	target, err := s.siteService.BuildTarget(site)
	if err != nil {
		result = transfer.Result{Message: err.Error()}
	} else {
		onProgress := func(name string, size int64) {
			s.broadcastTo(site.ID, "backup_progress", websocket.BackupProgress{
				SiteID: site.ID,
				RunID:  run.ID,
				File:   name,
				Bytes:  size,
			})
		}
		result = s.runSnapshot(ctx, target, onProgress)
	}

	finalized, err := s.finalizeRun(run, result)
	if err != nil {
		log.Error().Err(err).Str("run", run.ID).Msg("Failed to record backup result")
		return run
	}

	if result.Success {
		msg := fmt.Sprintf("Backup of '%s' finished: %s.", site.Name, result.Message)
		s.eventService.CreateEvent("backup.success", "info", msg, &site.ID)
	} else {
		msg := fmt.Sprintf("Backup of '%s' failed: %s.", site.Name, result.Message)
		s.eventService.CreateEvent("backup.failed", "error", msg, &site.ID)
	}
	s.broadcast("backup_completed", finalized)
	return finalized
}

func (s *BackupService) createRun(siteID string) (models.BackupRun, error) {
	run := models.BackupRun{
		ID:        uuid.New().String(),
		SiteID:    siteID,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	stmt, err := s.db.Prepare("INSERT INTO backup_runs (id, site_id, status, started_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return models.BackupRun{}, err
	}
	defer stmt.Close()
	if _, err := stmt.Exec(run.ID, run.SiteID, run.Status, run.StartedAt); err != nil {
		return models.BackupRun{}, err
	}
	run.PrepareForAPI()
	return run, nil
}

func (s *BackupService) finalizeRun(run models.BackupRun, result transfer.Result) (models.BackupRun, error) {
	status := models.RunStatusFailed
	errorMessage := result.Message
	if result.Success {
		status = models.RunStatusSuccess
		errorMessage = ""
	}
	completed := time.Now().UTC()

	stmt, err := s.db.Prepare(`
		UPDATE backup_runs
		SET status = ?, completed_at = ?, file_count = ?, total_bytes = ?, skipped_items = ?, snapshot_path = ?, error_message = ?
		WHERE id = ?`)
	if err != nil {
		return models.BackupRun{}, err
	}
	defer stmt.Close()
	_, err = stmt.Exec(status, completed, result.FileCount, result.TotalBytes, result.SkippedItems, result.SnapshotPath, errorMessage, run.ID)
	if err != nil {
		return models.BackupRun{}, err
	}

	run.Status = status
	run.CompletedAt = &completed
	run.FileCount = result.FileCount
	run.TotalBytes = result.TotalBytes
	run.SkippedItems = result.SkippedItems
	run.SnapshotPath = result.SnapshotPath
	run.ErrorMessage = errorMessage
	run.PrepareForAPI()
	return run, nil
}

// GetRunByID retrieves a single backup run by its ID.
func (s *BackupService) GetRunByID(runID string) (models.BackupRun, error) {
	row := s.db.QueryRow(`
		SELECT id, site_id, status, started_at, completed_at, file_count, total_bytes, skipped_items, snapshot_path, error_message, pushed_provider, pushed_remote_id
		FROM backup_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.BackupRun{}, fmt.Errorf("%w: backup run", ErrNotFound)
		}
		return models.BackupRun{}, err
	}
	return run, nil
}

// GetRunsForSite retrieves the most recent runs for a given site.
func (s *BackupService) GetRunsForSite(siteID string) ([]models.BackupRun, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, status, started_at, completed_at, file_count, total_bytes, skipped_items, snapshot_path, error_message, pushed_provider, pushed_remote_id
		FROM backup_runs WHERE site_id = ? ORDER BY started_at DESC LIMIT ?`, siteID, siteHistoryLimit)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

// GetRecentRuns retrieves the most recent runs across all sites.
func (s *BackupService) GetRecentRuns() ([]models.BackupRun, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, status, started_at, completed_at, file_count, total_bytes, skipped_items, snapshot_path, error_message, pushed_provider, pushed_remote_id
		FROM backup_runs ORDER BY started_at DESC LIMIT ?`, globalHistoryLimit)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

// GetStats aggregates the dashboard counters. Only successful runs count
// toward the stored size total.
func (s *BackupService) GetStats() (models.Stats, error) {
	var stats models.Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0)
		FROM sites`).Scan(&stats.TotalSites, &stats.ActiveSites)
	if err != nil {
		return models.Stats{}, err
	}
	err = s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN total_bytes ELSE 0 END), 0)
		FROM backup_runs`,
		models.RunStatusSuccess, models.RunStatusFailed, models.RunStatusSuccess,
	).Scan(&stats.TotalRuns, &stats.SuccessfulRuns, &stats.FailedRuns, &stats.TotalSizeBytes)
	if err != nil {
		return models.Stats{}, err
	}
	stats.TotalSizeHuman = humanize.Bytes(uint64(stats.TotalSizeBytes))
	return stats, nil
}

// RecordPush marks a run as uploaded to a cloud provider.
func (s *BackupService) RecordPush(runID, provider, remoteID string) error {
	res, err := s.db.Exec("UPDATE backup_runs SET pushed_provider = ?, pushed_remote_id = ? WHERE id = ?", provider, remoteID, runID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: backup run", ErrNotFound)
	}
	return nil
}

// acquire reserves the per-site run slot. It reports false when a run for
// the site is already in flight.
func (s *BackupService) acquire(siteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[siteID] {
		return false
	}
	s.active[siteID] = true
	return true
}

func (s *BackupService) release(siteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, siteID)
}

func (s *BackupService) broadcast(action string, payload interface{}) {
	msg, err := json.Marshal(websocket.Message{Action: action, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to marshal websocket message")
		return
	}
	s.hub.Broadcast <- msg
}

func (s *BackupService) broadcastTo(siteID, action string, payload interface{}) {
	msg, err := json.Marshal(websocket.Message{Action: action, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to marshal websocket message")
		return
	}
	s.hub.BroadcastTo(siteID, msg)
}

// collectRuns drains rows into run records. It owns closing the rows.
func collectRuns(rows *sql.Rows) ([]models.BackupRun, error) {
	defer rows.Close()
	var runs []models.BackupRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// scanRun hydrates one backup_runs row from either a *sql.Row or *sql.Rows.
func scanRun(scanner interface{ Scan(...interface{}) error }) (models.BackupRun, error) {
	var run models.BackupRun
	err := scanner.Scan(
		&run.ID, &run.SiteID, &run.Status, &run.StartedAt, &run.CompletedAt,
		&run.FileCount, &run.TotalBytes, &run.SkippedItems,
		&run.SnapshotPath, &run.ErrorMessage, &run.PushedProvider, &run.PushedRemoteID,
	)
	if err != nil {
		return models.BackupRun{}, err
	}
	run.PrepareForAPI()
	return run, nil
}
