// Package backend implements the window backends: one contract satisfied by
// standalone windows, windows embedded in a host application, and windows
// driven by a host toolkit's idle loop.
package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/1broseidon/hostview/internal/bridge"
	"github.com/1broseidon/hostview/internal/config"
	"github.com/1broseidon/hostview/internal/content"
	"github.com/1broseidon/hostview/internal/lifecycle"
	"github.com/1broseidon/hostview/internal/message"
	"github.com/1broseidon/hostview/internal/platform"
	"github.com/1broseidon/hostview/internal/registry"
)

// Backend is the contract shared by every integration variant. Apart from
// the accessors, every method must be called on the window's owning
// goroutine and returns a NotOnOwningThread error otherwise.
type Backend interface {
	ID() string
	Kind() config.WindowMode
	State() lifecycle.State
	Presentation() lifecycle.Presentation
	Handle() platform.Handle
	Router() *bridge.Router

	Show() error
	Hide() error
	SetTitle(title string) error
	// LoadContent replaces the displayed page.
	LoadContent(ctx context.Context, src content.Source) error
	// ExecuteScript runs src in the page. Results travel over the bridge.
	ExecuteScript(src string) error
	// Emit pushes an event into the content runtime.
	Emit(name string, payload any) error
	// ProcessEvents runs one non-blocking pass over native messages, the
	// window queue and content timers. It reports whether a close condition
	// is pending.
	ProcessEvents() bool
	// RunBlockingLoop owns the event loop until the window is destroyed or
	// ctx ends. Only standalone windows support it.
	RunBlockingLoop(ctx context.Context) error
	// Close fires "closing" (which listeners may veto) and tears the
	// window down.
	Close() error

	base() *core
}

// Toolkit is the host GUI toolkit of an integrated window.
type Toolkit interface {
	// ScheduleIdle asks the toolkit to call fn from its own thread whenever
	// it is idle, until fn returns false.
	ScheduleIdle(fn func() bool)
}

// RendererFactory builds the content runtime of a window.
type RendererFactory func(host content.Host, opts content.Options) content.Renderer

// Deps are the collaborators a window is constructed with.
type Deps struct {
	Platform platform.Platform
	// Registry is optional; when set the window registers itself and is
	// removed from it on teardown.
	Registry     *registry.Registry
	Capabilities *bridge.Capabilities
	// Toolkit is required for integrated windows.
	Toolkit      Toolkit
	NewRenderer  RendererFactory
	CallTimeout  time.Duration
	TickInterval time.Duration
	Logger       *slog.Logger
}

func defaultRenderer(host content.Host, opts content.Options) content.Renderer {
	return content.NewEngine(host, opts)
}

// New constructs the variant selected by cfg.Mode on the calling goroutine.
// Standalone windows and child-policy embedded windows are owned by the
// caller from here on; owner-policy and integrated windows are owned by the
// goroutine that first calls ProcessEvents.
func New(ctx context.Context, cfg config.WindowConfig, deps Deps) (*Window, error) {
	if err := cfg.Validate(); err != nil {
		return nil, message.Wrap(message.CodeConstruction, err, "invalid window config")
	}
	if deps.Platform == nil {
		return nil, message.Errorf(message.CodeConstruction, "no platform available")
	}

	var b Backend
	switch cfg.Mode {
	case config.ModeStandalone:
		c, err := newCore(ctx, cfg, deps, true)
		if err != nil {
			return nil, err
		}
		b = &Standalone{core: c}
	case config.ModeEmbedded:
		c, err := newCore(ctx, cfg, deps, cfg.Parent.Policy == config.PolicyChild)
		if err != nil {
			return nil, err
		}
		b = &Embedded{core: c, policy: cfg.Parent.Policy, parent: platform.Handle(cfg.Parent.Handle)}
	case config.ModeIntegrated:
		if deps.Toolkit == nil {
			return nil, message.Errorf(message.CodeConstruction, "integrated window needs a host toolkit")
		}
		c, err := newCore(ctx, cfg, deps, false)
		if err != nil {
			return nil, err
		}
		b = &Integrated{core: c, toolkit: deps.Toolkit}
	default:
		return nil, message.Errorf(message.CodeConstruction, "unknown window mode %q", cfg.Mode)
	}

	w := &Window{b: b, c: b.base()}
	if err := w.c.register(w); err != nil {
		w.c.abort()
		return nil, err
	}
	if in, ok := b.(*Integrated); ok {
		in.schedule()
	}
	w.c.logger.Info("window created",
		"mode", string(cfg.Mode), "handle", uint64(w.c.Handle()), "policy", string(cfg.Parent.Policy))
	return w, nil
}
