package storage

import "errors"

// Errors shared by all run-archive implementations.
var (
	// ErrNotFound is returned when a requested run does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a run whose ID already
	// exists. The archive is append-only and never updates in place.
	ErrDuplicateKey = errors.New("duplicate key: run archive is append-only")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
