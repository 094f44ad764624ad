package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/1broseidon/hostview/internal/bridge"
	"github.com/1broseidon/hostview/internal/config"
	"github.com/1broseidon/hostview/internal/content"
	"github.com/1broseidon/hostview/internal/lifecycle"
	"github.com/1broseidon/hostview/internal/message"
	"github.com/1broseidon/hostview/internal/platform"
)

// Window is the handle given to automation code. Its methods may be called
// from any goroutine: work that touches the native window or the content
// runtime is marshalled onto the owning goroutine and awaited.
type Window struct {
	b Backend
	c *core
}

// Info is a point-in-time description of a window.
type Info struct {
	ID           string `json:"id"`
	Mode         string `json:"mode"`
	State        string `json:"state"`
	Presentation string `json:"presentation"`
	Visible      bool   `json:"visible"`
	Title        string `json:"title"`
	Handle       uint64 `json:"handle"`
	Pending      int    `json:"pending_calls"`
}

func (w *Window) ID() string { return w.c.ID() }

func (w *Window) Backend() Backend { return w.b }

func (w *Window) Config() config.WindowConfig { return w.c.cfg }

func (w *Window) State() lifecycle.State { return w.c.State() }

func (w *Window) Handle() platform.Handle { return w.c.Handle() }

func (w *Window) Info() Info {
	return Info{
		ID:           w.c.ID(),
		Mode:         string(w.c.Kind()),
		State:        w.c.State().String(),
		Presentation: w.c.Presentation().String(),
		Visible:      w.c.life.Visible(),
		Title:        w.c.currentTitle(),
		Handle:       uint64(w.c.Handle()),
		Pending:      w.c.router.Pending(),
	}
}

// CloseRequested receives a value whenever a tick observes a close
// condition the window has not acted on yet.
func (w *Window) CloseRequested() <-chan struct{} { return w.c.closeRequested }

// Done is closed once the window is destroyed.
func (w *Window) Done() <-chan struct{} { return w.c.destroyed }

// IsOwner reports whether the caller is the window's owning goroutine.
func (w *Window) IsOwner() bool { return w.c.owner.IsCurrent() }

func (w *Window) Show(ctx context.Context) error {
	return w.do(ctx, "show", w.b.Show)
}

func (w *Window) Hide(ctx context.Context) error {
	return w.do(ctx, "hide", w.b.Hide)
}

func (w *Window) SetTitle(ctx context.Context, title string) error {
	return w.do(ctx, "set_title", func() error { return w.b.SetTitle(title) })
}

// Close runs the close protocol on the owner. It returns a Vetoed error when
// a closing listener keeps the window open.
func (w *Window) Close(ctx context.Context) error {
	return w.do(ctx, "close", w.b.Close)
}

func (w *Window) LoadContent(ctx context.Context, src content.Source) error {
	return w.do(ctx, "load_content", func() error { return w.b.LoadContent(ctx, src) })
}

// ExecuteScript hands src to the owner without waiting for it to run.
// Script failures are logged; results come back over the bridge.
func (w *Window) ExecuteScript(src string) error {
	run := func() {
		if err := w.b.ExecuteScript(src); err != nil {
			w.c.logger.Warn("script failed", "error", err)
		}
	}
	if w.c.owner.IsCurrent() {
		run()
		return nil
	}
	if err := w.c.queue.PushTask(run); err != nil {
		return message.Wrap(message.CodeWindowClosed, err, "execute_script: window %s is closed", w.c.ID())
	}
	return nil
}

// Emit pushes an event into the content runtime.
func (w *Window) Emit(ctx context.Context, name string, payload any) error {
	return w.do(ctx, "emit", func() error { return w.b.Emit(name, payload) })
}

// Bind exposes h to content and to callers as a bound method.
func (w *Window) Bind(name string, h bridge.Handler) error {
	return w.c.router.Bind(name, h)
}

// On subscribes to a window event and returns the unsubscribe function.
func (w *Window) On(name string, l bridge.Listener) func() {
	return w.c.router.On(name, l)
}

// Call invokes target through the window's bridge. A zero timeout uses the
// window's default.
func (w *Window) Call(target string, payload any, timeout time.Duration) *bridge.Future {
	return w.c.router.Call(target, payload, timeout)
}

// Deliver queues an event for the content runtime. It never blocks.
func (w *Window) Deliver(name string, payload json.RawMessage) error {
	err := w.c.queue.PushTask(func() {
		if !w.c.State().Live() {
			return
		}
		if _, err := w.c.renderer.Emit(name, payload); err != nil {
			w.c.logger.Warn("event delivery failed", "event", name, "error", err)
		}
	})
	if err != nil {
		return message.Wrap(message.CodeWindowClosed, err, "window %s is closed", w.c.ID())
	}
	return nil
}

// CancelPending resolves every outstanding call of the window with
// Cancelled.
func (w *Window) CancelPending(reason string) int {
	return w.c.router.CancelAll(reason)
}

// do runs fn on the owner. From the owner it runs in place; otherwise the
// call is queued for the next tick and awaited until ctx ends.
func (w *Window) do(ctx context.Context, op string, fn func() error) error {
	if w.c.owner.IsCurrent() {
		return fn()
	}
	errc := make(chan error, 1)
	if err := w.c.queue.PushTask(func() { errc <- fn() }); err != nil {
		return message.Wrap(message.CodeWindowClosed, err, "%s: window %s is closed", op, w.c.ID())
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return message.Abandoned(ctx.Err(), "%s on window %s abandoned", op, w.c.ID())
	}
}
