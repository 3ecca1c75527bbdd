package ffs

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Background runs FlashFS's two cooperative maintenance tasks: the
// dirty-block erase sweep (which also advances firmware-partition erases)
// and the 1 Hz cache flush. Free blocks are not byte-verified here; only
// Mount with verifyFree=true scans them. Both tasks contend for the
// single logical writer the device model assumes, so they share a
// weight-1 semaphore instead of running unsynchronized.
type Background struct {
	fs  *Ffs_t
	sem *semaphore.Weighted

	flushPeriod time.Duration
	sweepBatch  int
}

// NewBackground constructs the background maintenance driver. flushPeriod
// of zero defaults to 1 second (§4.2); sweepBatch of zero defaults to 4
// blocks per tick.
func NewBackground(fs *Ffs_t, flushPeriod time.Duration, sweepBatch int) *Background {
	if flushPeriod <= 0 {
		flushPeriod = time.Second
	}
	if sweepBatch <= 0 {
		sweepBatch = 4
	}
	return &Background{fs: fs, sem: semaphore.NewWeighted(1), flushPeriod: flushPeriod, sweepBatch: sweepBatch}
}

// Run drives both tasks until ctx is canceled, returning the first
// task error (if any) once every goroutine has exited.
func (b *Background) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.runCacheFlusher(ctx) })
	g.Go(func() error { return b.runDirtySweeper(ctx) })
	return g.Wait()
}

func (b *Background) runCacheFlusher(ctx context.Context) error {
	t := time.NewTicker(b.flushPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := b.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			b.fs.pl.FlushCache()
			b.sem.Release(1)
		}
	}
}

func (b *Background) runDirtySweeper(ctx context.Context) error {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := b.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			b.fs.bl.SweepDirty(b.sweepBatch)
			b.fs.part.EraseTick(b.sweepBatch)
			b.sem.Release(1)
		}
	}
}

// Tick runs one synchronous round of maintenance, for callers (tests,
// single-threaded hosts) that drive FlashFS cooperatively instead of via
// Run's goroutines.
func (b *Background) Tick() {
	b.fs.bl.SweepDirty(b.sweepBatch)
	b.fs.part.EraseTick(b.sweepBatch)
}
