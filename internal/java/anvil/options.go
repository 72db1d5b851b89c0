package anvil

import (
	"log"
	"time"

	"voxelstore.ai/internal/lock"
)

const (
	DefaultSectorSize        = 4096
	DefaultExternalThreshold = 1 << 20

	// maxSectors is the largest count that fits the one byte sector field.
	maxSectors = 255
	// headerBytes covers the location and timestamp tables.
	headerBytes = 8192
)

type Options struct {
	SectorSize        int
	Compression       Compression
	ExternalThreshold int
	// DisableSidecar makes oversized entries fail with ErrTooLarge instead
	// of spilling into c.<x>.<z>.mcc files.
	DisableSidecar bool

	Locks  *lock.Table
	Logger *log.Logger
	Now    func() time.Time

	// BeforeCompact runs before a region file is rewritten. An error aborts
	// the compaction.
	BeforeCompact func(path string) error
	AfterCompact  func(CompactResult)
}

func (o Options) normalized() Options {
	if o.SectorSize <= 0 {
		o.SectorSize = DefaultSectorSize
	}
	if o.Compression == 0 {
		o.Compression = CompressionZlib
	}
	if o.ExternalThreshold <= 0 {
		o.ExternalThreshold = DefaultExternalThreshold
	}
	if o.Locks == nil {
		o.Locks = lock.Shared
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) headerSectors() int64 {
	return int64((headerBytes + o.SectorSize - 1) / o.SectorSize)
}

// CompactResult describes one finished region compaction.
type CompactResult struct {
	Path        string
	BytesBefore int64
	BytesAfter  int64
	Entries     int
	Removed     bool
	Duration    time.Duration
}
