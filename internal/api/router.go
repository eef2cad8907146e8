package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/siteback/siteback-be/internal/api/handlers"
	"github.com/siteback/siteback-be/internal/services"
	"github.com/siteback/siteback-be/internal/websocket"
)

// NewRouter creates and configures a new Chi router.
func NewRouter(
	hub *websocket.Hub,
	siteService services.SiteServiceProvider,
	backupService services.BackupServiceProvider,
	scheduleService services.ScheduleServiceProvider,
	cloudService services.CloudServiceProvider,
	systemService services.SystemServiceProvider,
	eventService services.EventServiceProvider,
) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration for development
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"}, // Adjust for your frontend URL
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	siteHandler := handlers.NewSiteHandler(siteService, backupService)
	backupHandler := handlers.NewBackupHandler(backupService, cloudService)
	scheduleHandler := handlers.NewScheduleHandler(scheduleService)
	cloudHandler := handlers.NewCloudHandler(cloudService)
	systemHandler := handlers.NewSystemHandler(systemService)
	eventHandler := handlers.NewEventHandler(eventService)
	wsHandler := handlers.NewWebSocketHandler(hub)

	// API versioning
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoints: global feed plus per-site progress
		r.Get("/ws", wsHandler.Serve)
		r.Get("/ws/sites/{id}", wsHandler.Serve)

		// REST API endpoints for sites
		r.Route("/sites", func(r chi.Router) {
			r.Get("/", siteHandler.GetAll)
			r.Post("/", siteHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", siteHandler.Get)
				r.Put("/", siteHandler.Update)
				r.Delete("/", siteHandler.Delete)
				r.Post("/test", siteHandler.Test)
				r.Post("/backup", siteHandler.StartBackup)
				r.Get("/runs", siteHandler.GetRuns)
				r.Get("/schedule", scheduleHandler.Get)
				r.Put("/schedule", scheduleHandler.Upsert)
				r.Delete("/schedule", scheduleHandler.Delete)
			})
		})

		// Backup run history and cloud push
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", backupHandler.GetRecent)
			r.Get("/{id}", backupHandler.Get)
			r.Post("/{id}/push", backupHandler.Push)
		})
		r.Get("/stats", backupHandler.GetStats)

		// Cloud accounts and the OAuth round trip
		r.Route("/cloud", func(r chi.Router) {
			r.Get("/providers", cloudHandler.GetProviders)
			r.Get("/accounts", cloudHandler.GetAccounts)
			r.Get("/callback", cloudHandler.Callback)
			r.Route("/{provider}", func(r chi.Router) {
				r.Get("/connect", cloudHandler.Connect)
				r.Delete("/", cloudHandler.Disconnect)
				r.Get("/folders", cloudHandler.GetFolders)
			})
		})

		// Local filesystem helpers for the destination picker
		r.Route("/system", func(r chi.Router) {
			r.Get("/browse", systemHandler.Browse)
			r.Post("/mkdir", systemHandler.Mkdir)
			r.Get("/disk", systemHandler.DiskUsage)
		})

		// Activity feed
		r.Get("/events", eventHandler.GetRecent)
	})

	return r
}
