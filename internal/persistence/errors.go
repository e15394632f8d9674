package persistence

import "errors"

var (
	// ErrNotFound is returned by lookups with no matching row.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity marks a datastore constraint violation that the
	// idempotence design should have prevented. Callers treat it as fatal.
	ErrIntegrity = errors.New("integrity violation")
)
