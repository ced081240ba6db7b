package chat

import "errors"

// Error taxonomy shared by the engine, the store and the session bridge.
var (
	// ErrInvalidInput is returned for malformed or empty payloads.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when the target message no longer exists.
	ErrNotFound = errors.New("message not found")
	// ErrStorageUnavailable is returned once store retries are exhausted.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrDuplicateConnection means a connection id was registered twice.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrUnknownConnection is returned for operations on a connection that is gone.
	ErrUnknownConnection = errors.New("unknown connection")
)
