package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/1broseidon/hostview/internal/message"
)

// Result is what a call resolves to.
type Result struct {
	Payload json.RawMessage
	Err     error
}

// Future is the pending result of Router.Call. It resolves exactly once.
type Future struct {
	id     string
	target string
	router *Router
	done   chan struct{}
	once   sync.Once
	result Result
}

func newFuture(r *Router, target string) *Future {
	return &Future{target: target, router: r, done: make(chan struct{})}
}

func (f *Future) resolve(res Result) {
	f.once.Do(func() {
		f.result = res
		close(f.done)
	})
}

// ID returns the correlation id, empty if the call never left the caller.
func (f *Future) ID() string { return f.id }

func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome without blocking.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// Await blocks until the call resolves or ctx ends. On the owning thread it
// keeps draining the window's queue while it waits so the response can
// arrive.
func (f *Future) Await(ctx context.Context) (json.RawMessage, error) {
	if res, ok := f.Result(); ok {
		return res.Payload, res.Err
	}

	reentrant := f.router != nil && f.router.owner.IsCurrent()
	var ready <-chan struct{}
	var tick <-chan time.Time
	if reentrant {
		if f.router.queue != nil {
			ready = f.router.queue.Ready()
		}
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if reentrant {
			f.router.pumpOnce()
		}
		select {
		case <-f.done:
			return f.result.Payload, f.result.Err
		case <-ctx.Done():
			if f.router != nil {
				f.router.abandon(f.id)
			}
			return nil, message.Abandoned(ctx.Err(), "call %q abandoned", f.target)
		case <-ready:
		case <-tick:
		}
	}
}

// Decode awaits the result and unmarshals it into v.
func (f *Future) Decode(ctx context.Context, v any) error {
	payload, err := f.Await(ctx)
	if err != nil {
		return err
	}
	return message.DecodePayload(payload, v)
}
