package domain

import "errors"

// Common errors
var (
	// ErrNotFound is returned when a draft is not found locally or remotely
	ErrNotFound = errors.New("draft not found")

	// ErrInvalidDraft is returned when creating or saving a draft with invalid fields
	ErrInvalidDraft = errors.New("invalid draft")

	// ErrInvalidKind is returned when an entity kind is neither tweet nor thread
	ErrInvalidKind = errors.New("invalid entity kind")
)
