package services

import "errors"

// Sentinel errors the API layer maps onto HTTP statuses.
var (
	// ErrNotFound reports a row that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalid reports a rejected request payload.
	ErrInvalid = errors.New("invalid input")

	// ErrRunActive reports a backup trigger for a site whose previous run
	// has not finished yet.
	ErrRunActive = errors.New("a backup for this site is already running")

	// ErrForbidden reports filesystem access the process is not allowed.
	ErrForbidden = errors.New("permission denied")
)
