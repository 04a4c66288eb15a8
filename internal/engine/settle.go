package engine

import (
	"context"
	"time"
)

// settlePoll is how often Settle samples the engine.
const settlePoll = time.Millisecond

// Settle blocks until the engine is idle: no queued events, no stream event
// waiting, no write in flight and no debounce deadline that has passed
// without being handled. Deadlines still in the future do not count, so
// with a mock clock Settle returns while writes wait for the clock to move.
//
// Idle must hold on two consecutive samples with no event processed in
// between.
func (e *Engine) Settle(ctx context.Context) error {
	return e.settle(ctx, true)
}

// SettleQueued is Settle without waiting for remote writes in flight. It
// lets a caller that is holding writes back observe the state in between.
func (e *Engine) SettleQueued(ctx context.Context) error {
	return e.settle(ctx, false)
}

func (e *Engine) settle(ctx context.Context, writes bool) error {
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	var last uint64
	quiet := 0
	for {
		n := e.processed.Load()
		if e.idle(writes) && n == last {
			quiet++
			if quiet >= 2 {
				return nil
			}
		} else {
			quiet = 0
		}
		last = n

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopped:
			return ErrStopped
		case <-ticker.C:
		}
	}
}

func (e *Engine) idle(writes bool) bool {
	if e.outstanding.Load() > 0 {
		return false
	}
	if writes && e.inflight.Load() > 0 {
		return false
	}
	if ref := e.streamCh.Load(); ref != nil && len(ref.ch) > 0 {
		return false
	}
	return !e.debounce.HasDue()
}
