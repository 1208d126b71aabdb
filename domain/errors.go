package domain

import "errors"

var (
	// ErrTaskNotFound is returned when a task id is not on the board.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidStatus is returned for a column name outside the known set.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
