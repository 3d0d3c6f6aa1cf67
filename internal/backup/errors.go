package backup

import "errors"

var (
	// ErrNotFound means the referenced backup record or its blob is absent.
	ErrNotFound = errors.New("backup not found")
	// ErrStorageUnavailable wraps transient blob or record store failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrValidation means the request was rejected before any I/O.
	ErrValidation = errors.New("invalid backup request")
)
