package storage

import "errors"

// Errors shared by every store implementation.
var (
	// ErrDuplicateKey is returned when inserting a record whose key
	// already exists. The trade log and position history are append-only;
	// updates are never allowed.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
