// Package storage holds the errors shared by every store implementation.
package storage

import "errors"

var (
	// ErrNotFound is returned when a referenced account, transaction, or
	// budget line does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID is returned when an insert collides with an existing
	// primary key.
	ErrDuplicateID = errors.New("duplicate id")
)
