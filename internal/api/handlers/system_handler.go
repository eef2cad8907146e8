package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/siteback/siteback-be/internal/services"
)

// SystemHandler handles HTTP requests for browsing the host filesystem when
// picking backup destinations.
type SystemHandler struct {
	service services.SystemServiceProvider
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(service services.SystemServiceProvider) *SystemHandler {
	return &SystemHandler{service: service}
}

// Browse handles the request to list a local directory.
func (h *SystemHandler) Browse(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	listing, err := h.service.BrowseDirectory(path)
	if err != nil {
		writeServiceError(w, err, "Failed to browse directory")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listing)
}

// Mkdir handles the request to create a local directory.
func (h *SystemHandler) Mkdir(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateDirectory(payload.Path)
	if err != nil {
		writeServiceError(w, err, "Failed to create directory")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"path": created})
}

// DiskUsage handles the request for the volume state behind a local path.
func (h *SystemHandler) DiskUsage(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	usage, err := h.service.DiskUsage(path)
	if err != nil {
		writeServiceError(w, err, "Failed to read disk usage")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(usage)
}
