package store

import "errors"

var (
	// ErrNotFound is returned when a key has no record in the table
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when a write raced another writer and lost
	ErrConflict = errors.New("sessions table changed concurrently")
	// ErrCorrupt is returned when the stored table cannot be decoded
	ErrCorrupt = errors.New("sessions table is corrupt")
	// ErrSkip can be returned by a mutator to abort without writing
	ErrSkip = errors.New("skip write")
)
