package keeper

import (
	"context"
	"time"
)

// runLoop calls tick until ctx is done, sleeping for the delay each tick
// returns. Ticks never overlap.
func runLoop(ctx context.Context, tick func(context.Context) time.Duration) {
	for {
		delay := tick(ctx)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
