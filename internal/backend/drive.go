package backend

import (
	"context"
	"runtime"
	"time"

	"github.com/1broseidon/hostview/internal/lifecycle"
	"golang.org/x/time/rate"
)

// Drive makes the calling goroutine the owner of w and ticks it at most once
// per interval until the window is destroyed or ctx ends. It is the tick
// driver for embedded and integrated windows that have no host loop.
func Drive(ctx context.Context, w *Window, interval time.Duration) error {
	c := w.c
	c.owner.Claim()
	if err := c.checkOwner("drive"); err != nil {
		return err
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if interval <= 0 {
		interval = c.tick
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			// ctx ended, or ends before the next tick is due.
			return nil
		}
		w.b.ProcessEvents()
		if c.State() == lifecycle.Destroyed {
			return nil
		}
	}
}
