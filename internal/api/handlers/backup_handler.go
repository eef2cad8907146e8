package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/siteback/siteback-be/internal/services"
)

// BackupHandler handles HTTP requests related to backup runs across sites.
type BackupHandler struct {
	service      services.BackupServiceProvider
	cloudService services.CloudServiceProvider
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(service services.BackupServiceProvider, cloudService services.CloudServiceProvider) *BackupHandler {
	return &BackupHandler{service: service, cloudService: cloudService}
}

// GetRecent handles the request for recent runs across all sites.
func (h *BackupHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.GetRecentRuns()
	if err != nil {
		http.Error(w, "Failed to retrieve backup history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// Get handles the request to get a single run by its ID.
func (h *BackupHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.service.GetRunByID(id)
	if err != nil {
		writeServiceError(w, err, "Failed to retrieve backup run")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// GetStats handles the request for the dashboard counters.
func (h *BackupHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats()
	if err != nil {
		http.Error(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// Push handles the request to upload a finished run's snapshot to a cloud
// provider.
func (h *BackupHandler) Push(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var payload struct {
		Provider string `json:"provider"`
		FolderID string `json:"folderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	run, err := h.cloudService.PushRun(r.Context(), id, payload.Provider, payload.FolderID)
	if err != nil {
		writeServiceError(w, err, "Failed to push snapshot")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}
