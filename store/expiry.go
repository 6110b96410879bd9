package store

import (
	"context"
	"time"
)

// SweeperOptions configures the active expiration background task.
type SweeperOptions struct {
	// Interval between sweep ticks. Defaults to 100ms, matching real
	// Redis's active-expire cycle cadence.
	Interval time.Duration
	// SampleSize is how many entries each tick inspects. Defaults to 20.
	SampleSize int
}

func (o SweeperOptions) withDefaults() SweeperOptions {
	if o.Interval <= 0 {
		o.Interval = 100 * time.Millisecond
	}
	if o.SampleSize <= 0 {
		o.SampleSize = 20
	}
	return o
}

// RunSweeper runs the active expiration loop until ctx is cancelled. Each
// tick it calls Store.Sweep to reclaim a bounded sample of expired
// entries; it never scans the whole key space, so its per-tick cost does
// not grow with the size of the store. onSweep, if non-nil, is called
// after every tick with the number of entries that tick removed — the
// server wires this to a metrics counter.
//
// RunSweeper blocks until ctx is done and then returns, holding no
// resources afterward; callers typically run it in its own goroutine.
func RunSweeper(ctx context.Context, s *Store, opts SweeperOptions, onSweep func(removed int)) {
	opts = opts.withDefaults()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.Sweep(opts.SampleSize)
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}
