package models

import "errors"

// Error taxonomy shared across the engine. Callers classify failures with
// errors.Is; packages wrap these with fmt.Errorf("...: %w", ...) to add context.
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrExternalAPI    = errors.New("external api call failed")
	ErrConflict       = errors.New("conflicting request")
)
