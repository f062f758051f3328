package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidTransition is returned when a session status update would
// cross an illegal edge of the state machine in internal/model.
var ErrInvalidTransition = errors.New("storage: invalid session status transition")
