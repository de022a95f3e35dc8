package repo

import "errors"

// Sentinel errors every repository implementation returns for the
// failure modes named in the data model: not_found, conflict (unique-key
// violation), storage_unavailable. Callers map these to apperr codes at
// the service boundary.
var (
	ErrNotFound           = errors.New("repo: not found")
	ErrConflict           = errors.New("repo: conflict")
	ErrStorageUnavailable = errors.New("repo: storage unavailable")
)
