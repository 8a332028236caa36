package storage

import "errors"

var (
	// ErrNotFound is returned when an application or release does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateIdentifier is returned when an application identifier is
	// already taken.
	ErrDuplicateIdentifier = errors.New("identifier already in use")

	// ErrDuplicateVersion is returned when a release version already exists
	// for the application and no overwrite was requested.
	ErrDuplicateVersion = errors.New("version already exists")
)
