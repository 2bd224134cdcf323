package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyExists indicates a uniqueness constraint was violated.
	ErrAlreadyExists = errors.New("repository: already exists")
	// ErrInvalidArgument indicates input rejected by a schema constraint.
	ErrInvalidArgument = errors.New("repository: invalid argument")
)
