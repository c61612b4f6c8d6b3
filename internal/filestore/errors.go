package filestore

import "errors"

// Sentinel errors for the filestore package. Using sentinels instead of
// ad-hoc fmt.Errorf lets callers match with errors.Is.
var (
	// ErrLockContention is returned when acquireLock exhausts its retry
	// ceiling without acquiring the lock.
	ErrLockContention = errors.New("filestore: lock contention exhausted retries")

	// ErrPathRequired is returned when an empty path is passed to an
	// operation that requires one.
	ErrPathRequired = errors.New("filestore: path is required")
)
