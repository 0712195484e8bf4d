package leads

import "errors"

var (
	// ErrNotFound indicates no lead exists for the key or contact.
	ErrNotFound = errors.New("leads: not found")
	// ErrConflict indicates the stored snapshot changed since the lead was loaded.
	ErrConflict = errors.New("leads: snapshot conflict")
	// ErrExists indicates a create for a key that is already stored.
	ErrExists = errors.New("leads: already exists")
	// ErrInvalidTransition indicates a disallowed mode change.
	ErrInvalidTransition = errors.New("leads: invalid transition")
	// ErrMissingKey indicates a lead without a key.
	ErrMissingKey = errors.New("leads: key required")
)
