package java

import "errors"

var (
	// ErrLevelNotOpen is returned by operations that need an open level.
	ErrLevelNotOpen = errors.New("java: level is not open")
	// ErrLevelOpen is returned by operations that need a closed level.
	ErrLevelOpen = errors.New("java: level is open")

	ErrNotLevel           = errors.New("java: not a level directory")
	ErrLevelExists        = errors.New("java: level already exists")
	ErrUnknownDimension   = errors.New("java: unknown dimension")
	ErrDimensionDestroyed = errors.New("java: dimension destroyed")
)
