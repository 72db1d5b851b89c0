package anvil

import "errors"

var (
	// ErrDestroyed is returned by every operation on a destroyed region.
	ErrDestroyed = errors.New("anvil: region destroyed")
	// ErrCorruptRegion marks an entry or header that cannot be trusted.
	ErrCorruptRegion = errors.New("anvil: corrupt region data")
	// ErrTooLarge is returned when an entry needs a sidecar file and sidecars are disabled.
	ErrTooLarge = errors.New("anvil: entry too large for region")

	ErrBadFileName        = errors.New("anvil: not a region file name")
	ErrUnknownCompression = errors.New("anvil: unknown compression scheme")
)
