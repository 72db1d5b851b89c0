package anvil

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type CompactStats struct {
	Queued         uint64
	Compacted      uint64
	Removed        uint64
	Failed         uint64
	BytesReclaimed int64
	LastSuccess    time.Time
}

// Compactor compacts regions on a fixed pool of workers. Different regions
// run in parallel; each one is compacted while holding its region lock.
type Compactor struct {
	logger *log.Logger

	jobs chan *Region
	wg   sync.WaitGroup
	once sync.Once

	queued          atomic.Uint64
	compacted       atomic.Uint64
	removed         atomic.Uint64
	failed          atomic.Uint64
	bytesReclaimed  atomic.Int64
	lastSuccessUnix atomic.Int64

	errMu sync.Mutex
	errs  []error
}

func NewCompactor(workers int, logger *log.Logger) *Compactor {
	if workers <= 0 {
		workers = 1
	}
	c := &Compactor{
		logger: logger,
		jobs:   make(chan *Region, workers*4),
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for r := range c.jobs {
				c.compactOne(r)
			}
		}()
	}
	return c
}

func (c *Compactor) Enqueue(r *Region) {
	c.queued.Add(1)
	c.jobs <- r
}

// Wait stops accepting work, waits for the queue to drain and returns every
// compaction error joined together.
func (c *Compactor) Wait() error {
	c.once.Do(func() { close(c.jobs) })
	c.wg.Wait()
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return errors.Join(c.errs...)
}

func (c *Compactor) Stats() CompactStats {
	st := CompactStats{
		Queued:         c.queued.Load(),
		Compacted:      c.compacted.Load(),
		Removed:        c.removed.Load(),
		Failed:         c.failed.Load(),
		BytesReclaimed: c.bytesReclaimed.Load(),
	}
	if ts := c.lastSuccessUnix.Load(); ts > 0 {
		st.LastSuccess = time.Unix(0, ts)
	}
	return st
}

func (c *Compactor) compactOne(r *Region) {
	r.ref.Lock()
	res, err := r.compact()
	r.ref.Unlock()
	if err != nil {
		c.failed.Add(1)
		c.errMu.Lock()
		c.errs = append(c.errs, err)
		c.errMu.Unlock()
		c.printf("compact fail path=%s err=%v", r.Path(), err)
		return
	}
	c.compacted.Add(1)
	if res.Removed {
		c.removed.Add(1)
	}
	c.bytesReclaimed.Add(res.BytesBefore - res.BytesAfter)
	c.lastSuccessUnix.Store(time.Now().UnixNano())
	c.printf("compact ok path=%s entries=%d before=%d after=%d took=%s", res.Path, res.Entries, res.BytesBefore, res.BytesAfter, res.Duration)
}

func (c *Compactor) printf(format string, args ...any) {
	if c == nil || c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
