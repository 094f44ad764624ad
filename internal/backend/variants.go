package backend

import (
	"context"
	"runtime"
	"time"

	"github.com/1broseidon/hostview/internal/config"
	"github.com/1broseidon/hostview/internal/lifecycle"
	"github.com/1broseidon/hostview/internal/platform"
)

// Standalone owns its window's event loop. The constructing goroutine is the
// owner and is expected to call RunBlockingLoop.
type Standalone struct {
	*core
}

// RunBlockingLoop locks the owner to its OS thread and ticks until the
// window is destroyed or ctx ends. Work queued from other goroutines wakes
// the loop immediately; native messages are polled every tick interval.
func (s *Standalone) RunBlockingLoop(ctx context.Context) error {
	if err := s.checkOwner("run_blocking_loop"); err != nil {
		return err
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		s.ProcessEvents()
		if s.State() == lifecycle.Destroyed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.queue.Ready():
		case <-ticker.C:
		}
	}
}

// Embedded is parented to a window owned by a host application and is
// ticked by the host through ProcessEvents.
type Embedded struct {
	*core
	policy config.ParentPolicy
	parent platform.Handle
}

func (e *Embedded) Policy() config.ParentPolicy { return e.policy }

func (e *Embedded) Parent() platform.Handle { return e.parent }

// Integrated is driven by a host toolkit's idle callbacks.
type Integrated struct {
	*core
	toolkit Toolkit
}

func (i *Integrated) schedule() {
	i.toolkit.ScheduleIdle(func() bool {
		i.ProcessEvents()
		return i.State() != lifecycle.Destroyed
	})
}

var (
	_ Backend = (*Standalone)(nil)
	_ Backend = (*Embedded)(nil)
	_ Backend = (*Integrated)(nil)
)
