package monitoring

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/siteback/siteback-be/internal/models"
	"github.com/siteback/siteback-be/internal/services"
)

// Scheduler fires site backups when their cron schedules come due.
type Scheduler struct {
	scheduleSvc services.ScheduleServiceProvider
	backupSvc   services.BackupServiceProvider
	eventSvc    services.EventServiceProvider
	ticker      *time.Ticker
	done        chan bool
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(scheduleSvc services.ScheduleServiceProvider, backupSvc services.BackupServiceProvider, eventSvc services.EventServiceProvider) *Scheduler {
	return &Scheduler{
		scheduleSvc: scheduleSvc,
		backupSvc:   backupSvc,
		eventSvc:    eventSvc,
		done:        make(chan bool),
	}
}

// Run starts the scheduler's ticking loop.
func (s *Scheduler) Run() {
	log.Println("Starting backup scheduler...")
	s.ticker = time.NewTicker(1 * time.Minute)
	defer s.ticker.Stop()

	// Run once immediately on start
	s.checkAndRunSchedules()

	for {
		select {
		case <-s.done:
			log.Println("Stopping backup scheduler.")
			return
		case <-s.ticker.C:
			s.checkAndRunSchedules()
		}
	}
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	s.done <- true
}

// checkAndRunSchedules queries for due schedules and dispatches their backups.
// Run times are advanced before the backup starts so a long run cannot make
// the same schedule fire again on the next tick.
func (s *Scheduler) checkAndRunSchedules() {
	schedules, err := s.scheduleSvc.GetAllActiveSchedules()
	if err != nil {
		log.Printf("Scheduler: Failed to retrieve active schedules: %v", err)
		return
	}

	for _, schedule := range schedules {
		cronSchedule, err := cron.ParseStandard(schedule.CronExpression)
		if err != nil {
			log.Printf("Scheduler: Invalid cron expression for schedule %s: %v", schedule.ID, err)
			continue
		}

		now := time.Now()
		if schedule.NextRunAt != nil && now.After(*schedule.NextRunAt) {
			go s.executeBackup(schedule)

			lastRun := now
			nextRun := cronSchedule.Next(now)
			if err := s.scheduleSvc.UpdateScheduleRunTimes(schedule.ID, lastRun, nextRun); err != nil {
				log.Printf("Scheduler: Failed to advance run times for schedule %s: %v", schedule.ID, err)
			}
		}
	}
}

// executeBackup runs one scheduled backup to completion. The run itself
// records its outcome; only dispatch failures are reported here.
func (s *Scheduler) executeBackup(schedule models.Schedule) {
	log.Printf("Scheduler: Starting scheduled backup for site %s", schedule.SiteID)
	if _, err := s.backupSvc.RunBackup(context.Background(), schedule.SiteID); err != nil {
		log.Printf("Scheduler: Scheduled backup for site %s did not start: %v", schedule.SiteID, err)
		msg := fmt.Sprintf("Scheduled backup did not start: %v", err)
		s.eventSvc.CreateEvent("schedule.execute.fail", "error", msg, &schedule.SiteID)
	}
}
