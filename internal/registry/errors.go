package registry

import "errors"

var (
	// ErrNotFound is returned when a lookup key is not registered.
	ErrNotFound = errors.New("registry: id not found")
	// ErrCollision is returned when a registration would break the one to one mapping.
	ErrCollision = errors.New("registry: id collision")
	ErrBadID     = errors.New("registry: malformed namespaced id")
)
