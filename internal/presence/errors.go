package presence

import "errors"

// Error taxonomy of the presence engine. Validation errors are rejected
// immediately and never retried; store-unavailable errors on writes are
// surfaced so the caller can retry.
var (
	ErrVenueNotFound        = errors.New("venue not found")
	ErrGameNotInVenue       = errors.New("game not in venue roster")
	ErrInvalidDepartureTime = errors.New("invalid departure time")
	ErrNotFound             = errors.New("no active presence")
	ErrStoreUnavailable     = errors.New("presence store unavailable")
)
