package handlers

import (
	"errors"
	"net/http"

	"github.com/siteback/siteback-be/internal/cloud"
	"github.com/siteback/siteback-be/internal/services"
)

// writeServiceError maps service sentinels onto HTTP statuses. Anything
// unrecognized becomes an opaque 500 with the handler's fallback message.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrRunActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, cloud.ErrUnknownProvider):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, cloud.ErrToken):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}
