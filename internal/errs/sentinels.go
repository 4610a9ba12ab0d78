// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/engine/session layers.
var (
	// ErrNotFound indicates the requested profile or remote document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates the record changed after it was read (updated_at mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyExists indicates a record with the same identifier already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed input, e.g. a remote document missing required fields.
	ErrValidation = errors.New("validation")

	// ErrRemoteUnavailable indicates a network or service failure of the remote store.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrUnauthorized indicates there is no signed-in identity for the operation.
	ErrUnauthorized = errors.New("unauthorized")
)
