package pump

import (
	"log/slog"

	"github.com/1broseidon/hostview/internal/lifecycle"
	"github.com/1broseidon/hostview/internal/platform"
)

// Dispatcher receives translated lifecycle events.
type Dispatcher func(name string, payload any)

// Config wires a Pump to one window.
type Config struct {
	Platform  platform.Platform
	Lifecycle *lifecycle.Machine
	// Resolve returns the window's native handle, 0 if not yet known.
	Resolve  func() platform.Handle
	Dispatch Dispatcher
	// Bounds is the geometry the window was created with.
	Bounds platform.Rect
	Logger *slog.Logger
}

// Pump turns native messages for one window into lifecycle transitions and
// events. It never destroys the window: close conditions only raise the
// should-close flag for the owner to act on.
type Pump struct {
	platform platform.Platform
	life     *lifecycle.Machine
	resolve  func() platform.Handle
	dispatch Dispatcher
	bounds   platform.Rect
	logger   *slog.Logger

	reasons Class
}

func New(cfg Config) *Pump {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dispatch := cfg.Dispatch
	if dispatch == nil {
		dispatch = func(string, any) {}
	}
	return &Pump{
		platform: cfg.Platform,
		life:     cfg.Lifecycle,
		resolve:  cfg.Resolve,
		dispatch: dispatch,
		bounds:   cfg.Bounds,
		logger:   logger,
	}
}

// Tick drains what is queued for the window and returns the accumulated
// should-close flag.
func (p *Pump) Tick() bool {
	handle := platform.Handle(0)
	if p.resolve != nil {
		handle = p.resolve()
	}

	var msgs []platform.Message
	if handle != 0 {
		msgs = p.platform.PeekWindowMessages(handle)
	} else {
		msgs = p.platform.PeekThreadMessages()
	}

	for _, msg := range msgs {
		if handle == 0 && msg.Code != platform.CodeQuit {
			p.logger.Debug("discarding thread message before handle was known",
				"code", msg.Code.String(), "window", uint64(msg.Window))
			continue
		}
		if class := Classify(msg); class != 0 {
			p.raise(class, msg)
			continue
		}
		p.translate(msg)
	}

	if handle != 0 && p.reasons&HandleInvalid == 0 && !p.platform.IsWindow(handle) {
		p.raise(HandleInvalid, platform.Message{Window: handle})
	}
	return p.reasons != 0
}

// ShouldClose reports whether a close condition has been seen and not reset.
func (p *Pump) ShouldClose() bool {
	return p.reasons != 0
}

// Reasons returns the close flags seen so far.
func (p *Pump) Reasons() Class {
	return p.reasons
}

// Reset clears the flag, used when a close is vetoed.
func (p *Pump) Reset() {
	p.reasons = 0
}

func (p *Pump) raise(class Class, msg platform.Message) {
	if p.reasons&class == class {
		return
	}
	p.reasons |= class
	p.logger.Debug("close condition observed",
		"reason", class.String(), "window", uint64(msg.Window), "state", p.life.State().String())
}

func (p *Pump) translate(msg platform.Message) {
	switch msg.Code {
	case platform.CodeMap:
		if p.life.State() == lifecycle.Created {
			if changed, _ := p.life.Transition(lifecycle.Shown); changed {
				p.dispatch(lifecycle.EventShown, nil)
			}
			return
		}
		if p.life.SetVisible(true) {
			p.dispatch(lifecycle.EventShown, nil)
		}
	case platform.CodeUnmap:
		if p.life.SetVisible(false) {
			p.dispatch(lifecycle.EventHidden, nil)
		}
	case platform.CodeFocusIn:
		p.focus(lifecycle.Focused, lifecycle.EventFocused)
	case platform.CodeFocusOut:
		p.focus(lifecycle.Blurred, lifecycle.EventBlurred)
	case platform.CodeConfigure:
		next := msg.Bounds
		if next.Width != p.bounds.Width || next.Height != p.bounds.Height {
			p.dispatch(lifecycle.EventResized, lifecycle.Size{Width: next.Width, Height: next.Height})
		}
		if next.X != p.bounds.X || next.Y != p.bounds.Y {
			p.dispatch(lifecycle.EventMoved, lifecycle.Position{X: next.X, Y: next.Y})
		}
		p.bounds = next
	case platform.CodeStateChange:
		pres := PresentationOf(msg.States)
		if p.life.SetPresentation(pres) {
			p.dispatch(lifecycle.PresentationEvent(pres), nil)
		}
	default:
		p.logger.Debug("ignoring unrecognized message",
			"code", msg.Code.String(), "name", msg.Name, "raw", msg.Raw, "window", uint64(msg.Window))
	}
}

func (p *Pump) focus(to lifecycle.State, event string) {
	changed, err := p.life.Transition(to)
	if err != nil {
		p.logger.Debug("ignoring focus change", "error", err)
		return
	}
	if changed {
		p.dispatch(event, nil)
	}
}
