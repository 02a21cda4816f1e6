package store

import "errors"

var (
	// ErrNotFound is returned when a document doesn't exist.
	ErrNotFound = errors.New("reflink: document not found")

	// ErrAlreadyExists is returned when attempting to create a document with an existing ID.
	ErrAlreadyExists = errors.New("reflink: document already exists")

	// ErrBatchTooLarge is returned when an update batch exceeds the atomic batch limit.
	ErrBatchTooLarge = errors.New("reflink: batch exceeds atomic write limit")

	// ErrProtectedField is returned when an update targets a store-managed attribute.
	ErrProtectedField = errors.New("reflink: field is managed by the store")

	// ErrConflict is returned when the store cancels a batch for a reason
	// other than a missing document.
	ErrConflict = errors.New("reflink: batch rejected by store")

	// ErrInvalidField is returned when a field name cannot be used in a query.
	ErrInvalidField = errors.New("reflink: invalid field name")

	// ErrInvalidTimestamp is returned when a creation time cannot be ordered.
	ErrInvalidTimestamp = errors.New("reflink: invalid creation timestamp")

	// ErrValueChanged is returned when an update's expected value no longer
	// matches the stored field.
	ErrValueChanged = errors.New("reflink: field changed since it was read")
)
