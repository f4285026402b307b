package statestore

import (
	"context"
	"time"

	"github.com/industrial-rfp/workflow-core/core"
)

// Sweepable is implemented by backends that hold expired entries in
// process and need proactive reclamation. RedisStore does not implement
// it: Redis reclaims its own expired keys natively.
type Sweepable interface {
	Sweep(now time.Time) int
}

// RunSweeper starts a background goroutine that calls store.Sweep on
// every tick until ctx is cancelled, satisfying the "at least once per
// minute" reclamation requirement (spec.md §4.2). The returned func stops
// the sweeper and blocks until its goroutine has exited.
func RunSweeper(ctx context.Context, store Sweepable, interval time.Duration, logger core.Logger) (stop func()) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := store.Sweep(now); n > 0 {
					logger.Debug("sweeper reclaimed expired entries", map[string]interface{}{"count": n})
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
