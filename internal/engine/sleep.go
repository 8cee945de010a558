package engine

import (
	"context"
	"runtime"
	"time"
)

// spinThreshold is the tail of a sleep spent spinning instead of parked in
// the scheduler, whose wake-ups can land a millisecond or more late.
const spinThreshold = 2 * time.Millisecond

// preciseSleep blocks for d. The bulk is a timer wait that ctx can cut
// short; the last spinThreshold spins on the clock.
func preciseSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)

	if coarse := d - spinThreshold; coarse > 0 {
		t := time.NewTimer(coarse)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}
