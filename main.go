package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siteback/siteback-be/internal/api"
	"github.com/siteback/siteback-be/internal/config"
	"github.com/siteback/siteback-be/internal/database"
	"github.com/siteback/siteback-be/internal/logger"
	"github.com/siteback/siteback-be/internal/monitoring"
	"github.com/siteback/siteback-be/internal/services"
	"github.com/siteback/siteback-be/internal/websocket"
)

func main() {
	logger.Init()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Ensure the fallback directory for snapshots exists
	if err := os.MkdirAll(cfg.BackupBase, 0755); err != nil {
		log.Fatalf("Failed to create base backup directory: %v", err)
	}

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to apply database migrations: %v", err)
	}

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()

	// Set up services
	eventService := services.NewEventService(db)
	siteService := services.NewSiteService(db, eventService, cfg.BackupBase)
	backupService := services.NewBackupService(db, siteService, eventService, hub)
	scheduleService := services.NewScheduleService(db, eventService)
	cloudService := services.NewCloudService(db, backupService, eventService, cfg)
	systemService := services.NewSystemService()

	// Set up and run the background scheduler
	scheduler := monitoring.NewScheduler(scheduleService, backupService, eventService)
	go scheduler.Run()

	// Set up and run the background storage watcher
	storageWatcher := monitoring.NewStorageWatcher(siteService, systemService, eventService, hub)
	go storageWatcher.Run()

	// Set up router
	router := api.NewRouter(hub, siteService, backupService, scheduleService, cloudService, systemService, eventService)

	// Set up server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on port %d\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	scheduler.Stop()      // Stop the backup scheduler
	storageWatcher.Stop() // Stop the storage watcher

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
