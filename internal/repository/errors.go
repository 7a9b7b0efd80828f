package repository

import "errors"

// Shared repository-level errors.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry indicates a unique-constraint violation on insert.
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
)

var (
	ErrRoomNotFound     = ErrNotFound
	ErrSnapshotNotFound = ErrNotFound
)
