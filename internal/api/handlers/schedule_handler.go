package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/siteback/siteback-be/internal/models"
	"github.com/siteback/siteback-be/internal/services"
)

// ScheduleHandler handles HTTP requests related to site backup schedules.
type ScheduleHandler struct {
	service services.ScheduleServiceProvider
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(service services.ScheduleServiceProvider) *ScheduleHandler {
	return &ScheduleHandler{service: service}
}

// Get handles the request for a site's schedule.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "id")
	schedule, err := h.service.GetScheduleForSite(siteID)
	if err != nil {
		writeServiceError(w, err, "Failed to retrieve schedule")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(schedule)
}

// Upsert handles the request to set or replace a site's schedule.
func (h *ScheduleHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "id")
	var schedule models.Schedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := h.service.UpsertSchedule(siteID, schedule)
	if err != nil {
		writeServiceError(w, err, "Failed to save schedule")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(saved)
}

// Delete handles the request to remove a site's schedule.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "id")
	if err := h.service.DeleteScheduleForSite(siteID); err != nil {
		writeServiceError(w, err, "Failed to delete schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
