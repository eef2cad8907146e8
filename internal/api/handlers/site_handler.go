package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/siteback/siteback-be/internal/models"
	"github.com/siteback/siteback-be/internal/services"
)

// SiteHandler handles HTTP requests related to sites.
type SiteHandler struct {
	service       services.SiteServiceProvider
	backupService services.BackupServiceProvider
}

// NewSiteHandler creates a new SiteHandler.
func NewSiteHandler(service services.SiteServiceProvider, backupService services.BackupServiceProvider) *SiteHandler {
	return &SiteHandler{service: service, backupService: backupService}
}

// GetAll handles the request to get all sites.
func (h *SiteHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	sites, err := h.service.GetAllSites()
	if err != nil {
		http.Error(w, "Failed to retrieve sites", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sites)
}

// Get handles the request to get a single site by its ID.
func (h *SiteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	site, err := h.service.GetSiteByID(id)
	if err != nil {
		writeServiceError(w, err, "Failed to retrieve site")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(site)
}

// Create handles the request to register a new site.
func (h *SiteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input models.SiteInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	site, err := h.service.CreateSite(input)
	if err != nil {
		writeServiceError(w, err, "Failed to create site")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(site)
}

// Update handles the request to update an existing site. Absent fields keep
// their stored values.
func (h *SiteHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var update models.SiteUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	site, err := h.service.UpdateSite(id, update)
	if err != nil {
		writeServiceError(w, err, "Failed to update site")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(site)
}

// Delete handles the request to delete a site.
func (h *SiteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteSite(id); err != nil {
		writeServiceError(w, err, "Failed to delete site")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles the request to probe a site's remote server without running
// a backup. The probe outcome is the payload, not the status code.
func (h *SiteHandler) Test(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.service.GetSiteByID(id); err != nil {
		writeServiceError(w, err, "Failed to retrieve site")
		return
	}

	ok, message := h.service.TestConnection(r.Context(), id)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": ok,
		"message": message,
	})
}

// StartBackup handles the request to trigger a backup. The run continues in
// the background; the running record is returned immediately.
func (h *SiteHandler) StartBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.backupService.StartBackup(id)
	if err != nil {
		writeServiceError(w, err, "Failed to start backup")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(run)
}

// GetRuns handles the request for a site's backup history.
func (h *SiteHandler) GetRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.service.GetSiteByID(id); err != nil {
		writeServiceError(w, err, "Failed to retrieve site")
		return
	}

	runs, err := h.backupService.GetRunsForSite(id)
	if err != nil {
		http.Error(w, "Failed to retrieve backup history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}
