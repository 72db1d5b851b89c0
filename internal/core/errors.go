package core

import "errors"

var (
	// ErrChunkNotFound is returned when a chunk does not exist at the requested location.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrOutOfRange is returned for indices outside a fixed grid or table.
	ErrOutOfRange = errors.New("index out of range")
)
