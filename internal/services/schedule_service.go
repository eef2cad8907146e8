package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/siteback/siteback-be/internal/models"
)

// ScheduleServiceProvider defines the interface for schedule services.
// A site carries at most one schedule.
type ScheduleServiceProvider interface {
	UpsertSchedule(siteID string, schedule models.Schedule) (models.Schedule, error)
	GetScheduleForSite(siteID string) (models.Schedule, error)
	GetAllActiveSchedules() ([]models.Schedule, error)
	DeleteScheduleForSite(siteID string) error
	UpdateScheduleRunTimes(scheduleID string, lastRun time.Time, nextRun time.Time) error
}

// ScheduleService provides business logic for schedule management.
type ScheduleService struct {
	db           *sql.DB
	eventService EventServiceProvider
}

// NewScheduleService creates a new ScheduleService.
func NewScheduleService(db *sql.DB, eventService EventServiceProvider) *ScheduleService {
	return &ScheduleService{
		db:           db,
		eventService: eventService,
	}
}

// validateCronExpression checks if a cron expression is valid.
func (s *ScheduleService) validateCronExpression(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}

// UpsertSchedule creates the schedule for a site, or replaces the existing
// one. The next run time is recomputed from the cron expression either way.
func (s *ScheduleService) UpsertSchedule(siteID string, schedule models.Schedule) (models.Schedule, error) {
	cronSchedule, err := s.validateCronExpression(schedule.CronExpression)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("%w: cron expression: %v", ErrInvalid, err)
	}

	var exists bool
	if err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM sites WHERE id = ?)", siteID).Scan(&exists); err != nil {
		return models.Schedule{}, err
	}
	if !exists {
		return models.Schedule{}, fmt.Errorf("%w: site", ErrNotFound)
	}

	nextRun := cronSchedule.Next(time.Now())

	existing, err := s.GetScheduleForSite(siteID)
	switch {
	case err == nil:
		stmt, err := s.db.Prepare(`
			UPDATE schedules
			SET cron_expression = ?, is_active = ?, next_run_at = ?
			WHERE id = ?`)
		if err != nil {
			return models.Schedule{}, err
		}
		defer stmt.Close()
		if _, err := stmt.Exec(schedule.CronExpression, schedule.IsActive, nextRun, existing.ID); err != nil {
			return models.Schedule{}, err
		}
		s.eventService.CreateEvent("schedule.update", "info", fmt.Sprintf("Schedule changed to '%s'.", schedule.CronExpression), &siteID)
		return s.GetScheduleForSite(siteID)

	case errors.Is(err, ErrNotFound):
		schedule.ID = uuid.New().String()
		schedule.SiteID = siteID
		schedule.CreatedAt = time.Now().UTC()
		stmt, err := s.db.Prepare(`
			INSERT INTO schedules (id, site_id, cron_expression, is_active, next_run_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return models.Schedule{}, err
		}
		defer stmt.Close()
		if _, err := stmt.Exec(schedule.ID, schedule.SiteID, schedule.CronExpression, schedule.IsActive, nextRun, schedule.CreatedAt); err != nil {
			return models.Schedule{}, err
		}
		s.eventService.CreateEvent("schedule.create", "info", fmt.Sprintf("Schedule '%s' created.", schedule.CronExpression), &siteID)
		return s.GetScheduleForSite(siteID)

	default:
		return models.Schedule{}, err
	}
}

// GetScheduleForSite retrieves the schedule attached to a site.
func (s *ScheduleService) GetScheduleForSite(siteID string) (models.Schedule, error) {
	row := s.db.QueryRow(`
		SELECT id, site_id, cron_expression, is_active, last_run_at, next_run_at, created_at
		FROM schedules WHERE site_id = ?`, siteID)
	return s.scanSchedule(row)
}

// GetAllActiveSchedules retrieves all active schedules from the database.
func (s *ScheduleService) GetAllActiveSchedules() ([]models.Schedule, error) {
	rows, err := s.db.Query(`
		SELECT id, site_id, cron_expression, is_active, last_run_at, next_run_at, created_at
		FROM schedules WHERE is_active = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		schedule, err := s.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

// DeleteScheduleForSite removes the schedule attached to a site.
func (s *ScheduleService) DeleteScheduleForSite(siteID string) error {
	schedule, err := s.GetScheduleForSite(siteID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec("DELETE FROM schedules WHERE id = ?", schedule.ID)
	if err == nil {
		s.eventService.CreateEvent("schedule.delete", "warn", fmt.Sprintf("Schedule '%s' was removed.", schedule.CronExpression), &siteID)
	}
	return err
}

// UpdateScheduleRunTimes updates the last and next run times for a schedule after it fires.
func (s *ScheduleService) UpdateScheduleRunTimes(scheduleID string, lastRun time.Time, nextRun time.Time) error {
	_, err := s.db.Exec("UPDATE schedules SET last_run_at = ?, next_run_at = ? WHERE id = ?", lastRun, nextRun, scheduleID)
	return err
}

// scanSchedule is a helper function to scan a single row into a Schedule struct.
func (s *ScheduleService) scanSchedule(scanner interface{ Scan(...interface{}) error }) (models.Schedule, error) {
	var schedule models.Schedule
	err := scanner.Scan(
		&schedule.ID,
		&schedule.SiteID,
		&schedule.CronExpression,
		&schedule.IsActive,
		&schedule.LastRunAt,
		&schedule.NextRunAt,
		&schedule.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Schedule{}, fmt.Errorf("%w: schedule", ErrNotFound)
		}
		return models.Schedule{}, err
	}
	return schedule, nil
}
