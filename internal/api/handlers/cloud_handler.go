package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/siteback/siteback-be/internal/services"
)

// CloudHandler handles HTTP requests for cloud accounts and the OAuth
// consent round trip.
type CloudHandler struct {
	service services.CloudServiceProvider
}

// NewCloudHandler creates a new CloudHandler.
func NewCloudHandler(service services.CloudServiceProvider) *CloudHandler {
	return &CloudHandler{service: service}
}

// GetProviders handles the request for the providers this deployment has
// application credentials for.
func (h *CloudHandler) GetProviders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.service.ConfiguredProviders())
}

// GetAccounts handles the request for the connected cloud accounts.
func (h *CloudHandler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts()
	if err != nil {
		http.Error(w, "Failed to retrieve cloud accounts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// Connect handles the request to begin the OAuth consent flow. The caller
// redirects the user to the returned URL.
func (h *CloudHandler) Connect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	url, err := h.service.ConnectURL(provider)
	if err != nil {
		writeServiceError(w, err, "Failed to build consent URL")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}

// Callback handles the provider redirect that completes the consent flow.
func (h *CloudHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		http.Error(w, "Missing state or code parameter", http.StatusBadRequest)
		return
	}

	account, err := h.service.HandleCallback(r.Context(), state, code)
	if err != nil {
		writeServiceError(w, err, "Failed to complete account connection")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// Disconnect handles the request to forget a connected account.
func (h *CloudHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if err := h.service.Disconnect(provider); err != nil {
		writeServiceError(w, err, "Failed to disconnect account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFolders handles the request to list upload destinations on a provider.
func (h *CloudHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	parentID := r.URL.Query().Get("parent")

	folders, err := h.service.ListFolders(r.Context(), provider, parentID)
	if err != nil {
		writeServiceError(w, err, "Failed to list folders")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(folders)
}
