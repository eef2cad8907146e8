package monitoring

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/siteback/siteback-be/internal/models"
	"github.com/siteback/siteback-be/internal/services"
	"github.com/siteback/siteback-be/internal/websocket"
)

// StorageWatcher periodically measures the volumes behind the configured
// backup roots, pushes the readings to websocket clients and raises an event
// when a volume runs low on space.
type StorageWatcher struct {
	siteSvc       services.SiteServiceProvider
	systemSvc     services.SystemServiceProvider
	eventSvc      services.EventServiceProvider
	hub           *websocket.Hub
	ticker        *time.Ticker
	done          chan bool
	lowSpaceAlert map[string]time.Time
}

// NewStorageWatcher creates a new StorageWatcher.
func NewStorageWatcher(siteSvc services.SiteServiceProvider, systemSvc services.SystemServiceProvider, eventSvc services.EventServiceProvider, hub *websocket.Hub) *StorageWatcher {
	return &StorageWatcher{
		siteSvc:       siteSvc,
		systemSvc:     systemSvc,
		eventSvc:      eventSvc,
		hub:           hub,
		done:          make(chan bool),
		lowSpaceAlert: make(map[string]time.Time),
	}
}

// Run starts the periodic measurements.
func (w *StorageWatcher) Run() {
	log.Info().Msg("Starting background storage watcher...")
	w.ticker = time.NewTicker(30 * time.Second)
	defer w.ticker.Stop()

	// Run once immediately on start
	w.measureBackupVolumes()

	for {
		select {
		case <-w.done:
			log.Info().Msg("Stopping background storage watcher.")
			return
		case <-w.ticker.C:
			w.measureBackupVolumes()
		}
	}
}

// Stop halts the periodic measurements.
func (w *StorageWatcher) Stop() {
	w.done <- true
}

// measureBackupVolumes reads usage for every distinct backup root and
// broadcasts the readings. Roots that do not exist yet are skipped; they are
// created by the first run that targets them.
func (w *StorageWatcher) measureBackupVolumes() {
	sites, err := w.siteSvc.GetAllSites()
	if err != nil {
		log.Error().Err(err).Msg("StorageWatcher: Failed to query sites")
		return
	}

	seen := make(map[string]bool)
	var usages []models.DiskUsage
	for _, site := range sites {
		path := site.LocalBackupPath
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true

		usage, err := w.systemSvc.DiskUsage(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("StorageWatcher: Could not read volume usage")
			continue
		}
		usages = append(usages, usage)
		w.checkAndAlertForLowSpace(usage)
	}

	if len(usages) == 0 {
		return
	}
	msg, err := json.Marshal(websocket.Message{Action: "storage_update", Payload: usages})
	if err != nil {
		log.Error().Err(err).Msg("StorageWatcher: Failed to marshal storage update")
		return
	}
	w.hub.Broadcast <- msg
}

func (w *StorageWatcher) checkAndAlertForLowSpace(usage models.DiskUsage) {
	const lowSpaceThreshold = 90.0
	const alertCooldown = 15 * time.Minute

	if usage.UsedPercent <= lowSpaceThreshold {
		return
	}
	if lastAlertTime, ok := w.lowSpaceAlert[usage.Path]; ok {
		if time.Since(lastAlertTime) < alertCooldown {
			return
		}
	}
	msg := fmt.Sprintf("Backup volume '%s' is %.1f%% full (%s free).", usage.Path, usage.UsedPercent, usage.FreeHuman)
	w.eventSvc.CreateEvent("system.alert.storage", "warn", msg, nil)
	w.lowSpaceAlert[usage.Path] = time.Now()
}
