package chunk

import "errors"

var (
	// ErrDataVersion is returned when a data version is outside the range a
	// representation supports.
	ErrDataVersion = errors.New("chunk: data version out of range")
	// ErrMalformed is returned when stored chunk data has the wrong shape.
	ErrMalformed = errors.New("chunk: malformed chunk data")
)
