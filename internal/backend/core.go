package backend

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1broseidon/hostview/internal/bridge"
	"github.com/1broseidon/hostview/internal/config"
	"github.com/1broseidon/hostview/internal/content"
	"github.com/1broseidon/hostview/internal/lifecycle"
	"github.com/1broseidon/hostview/internal/message"
	"github.com/1broseidon/hostview/internal/platform"
	"github.com/1broseidon/hostview/internal/pump"
	"github.com/1broseidon/hostview/internal/registry"
	"github.com/1broseidon/hostview/internal/thread"
)

const defaultTickInterval = 16 * time.Millisecond

// core holds what every variant shares. Fields without a lock are touched
// only on the owning goroutine once construction returns.
type core struct {
	cfg      config.WindowConfig
	plat     platform.Platform
	reg      *registry.Registry
	router   *bridge.Router
	queue    *message.Queue
	owner    *thread.Owner
	life     *lifecycle.Machine
	pump     *pump.Pump
	renderer content.Renderer
	tick     time.Duration
	logger   *slog.Logger

	handle atomic.Uint64

	id string

	mu    sync.Mutex
	title string

	closeRequested chan struct{}
	destroyed      chan struct{}
	tearingDown    bool
}

func newCore(ctx context.Context, cfg config.WindowConfig, deps Deps, claimNow bool) (*core, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := deps.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	id := cfg.ID
	if id == "" {
		id = registry.NewID()
	}
	cfg.ID = id
	c := &core{
		id:             id,
		cfg:            cfg,
		plat:           deps.Platform,
		reg:            deps.Registry,
		queue:          message.NewQueue(),
		owner:          &thread.Owner{},
		life:           lifecycle.NewMachine(),
		tick:           tick,
		logger:         logger.With("component", "backend", "window", id),
		title:          cfg.Title,
		closeRequested: make(chan struct{}, 1),
		destroyed:      make(chan struct{}),
	}
	if claimNow {
		c.owner.Claim()
	}

	spec := platform.WindowSpec{
		Title:       cfg.Title,
		Bounds:      platform.Rect{X: cfg.X, Y: cfg.Y, Width: cfg.Width, Height: cfg.Height},
		Center:      cfg.Center,
		Resizable:   cfg.IsResizable(),
		Frameless:   cfg.Frameless,
		Transparent: cfg.Transparent,
		AlwaysOnTop: cfg.AlwaysOnTop,
		ToolWindow:  cfg.ToolWindow,
		Parent:      platform.Handle(cfg.Parent.Handle),
		Policy:      parentPolicy(cfg.Parent.Policy),
	}
	h, err := c.plat.CreateWindow(spec)
	if err != nil {
		c.logger.Error("native window creation failed", "title", cfg.Title, "error", err)
		return nil, message.Wrap(message.CodeConstruction, err, "failed to create native window")
	}
	c.handle.Store(uint64(h))

	c.router = bridge.New(bridge.Config{
		Window:         cfg.ID,
		Queue:          c.queue,
		Owner:          c.owner,
		Capabilities:   deps.Capabilities,
		DefaultTimeout: cfg.CallTimeout(deps.CallTimeout),
		Logger:         logger,
	})
	c.pump = pump.New(pump.Config{
		Platform:  c.plat,
		Lifecycle: c.life,
		Resolve:   c.Handle,
		Dispatch:  func(name string, payload any) { c.fire(name, payload) },
		Bounds:    spec.Bounds,
		Logger:    c.logger,
	})

	newRenderer := deps.NewRenderer
	if newRenderer == nil {
		newRenderer = defaultRenderer
	}
	c.renderer = newRenderer(c.router, content.Options{
		DevTools:        cfg.DevTools,
		AllowLocalFiles: cfg.AllowLocalFiles,
		Logger:          logger,
	})
	c.router.SetRemote(c.renderer)

	if !cfg.Content.IsZero() {
		if err := c.load(ctx, cfg.Content); err != nil {
			c.abort()
			return nil, message.Wrap(message.CodeConstruction, err, "failed to load initial content")
		}
	}
	return c, nil
}

func parentPolicy(p config.ParentPolicy) platform.ParentPolicy {
	switch p {
	case config.PolicyChild:
		return platform.ParentChild
	case config.PolicyOwner:
		return platform.ParentOwner
	}
	return platform.ParentNone
}

func (c *core) register(w *Window) error {
	if c.reg == nil {
		return nil
	}
	_, err := c.reg.Register(w, c.id)
	return err
}

// abort releases what construction allocated without running the close
// protocol.
func (c *core) abort() {
	if c.renderer != nil {
		_ = c.renderer.Close()
	}
	if c.router != nil {
		c.router.Close("window construction failed")
	}
	if h := c.Handle(); h != 0 && c.plat.IsWindow(h) {
		_ = c.plat.DestroyWindow(h)
	}
	c.queue.Close()
}

func (c *core) ID() string { return c.id }

func (c *core) Kind() config.WindowMode { return c.cfg.Mode }

func (c *core) State() lifecycle.State { return c.life.State() }

func (c *core) Presentation() lifecycle.Presentation { return c.life.Presentation() }

func (c *core) Handle() platform.Handle { return platform.Handle(c.handle.Load()) }

func (c *core) Router() *bridge.Router { return c.router }

func (c *core) base() *core { return c }

func (c *core) currentTitle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

func (c *core) checkOwner(op string) error {
	if c.owner.IsCurrent() {
		return nil
	}
	return message.Errorf(message.CodeNotOnOwningThread,
		"%s on window %s called from goroutine %d, owner is %d", op, c.ID(), thread.ID(), c.owner.ID())
}

func (c *core) checkLive(op string) error {
	if !c.life.State().Live() {
		return message.Wrap(message.CodeWindowClosed, message.ErrWindowClosed,
			"%s on window %s in state %s", op, c.ID(), c.life.State())
	}
	return nil
}

func (c *core) Show() error {
	if err := c.checkOwner("show"); err != nil {
		return err
	}
	if err := c.checkLive("show"); err != nil {
		return err
	}
	if err := c.plat.ShowWindow(c.Handle()); err != nil {
		return message.Wrap(message.CodeWindowClosed, err, "failed to show window %s", c.ID())
	}
	if c.life.State() == lifecycle.Created {
		if changed, _ := c.life.Transition(lifecycle.Shown); changed {
			c.fire(lifecycle.EventShown, nil)
		}
		return nil
	}
	if c.life.SetVisible(true) {
		c.fire(lifecycle.EventShown, nil)
	}
	return nil
}

func (c *core) Hide() error {
	if err := c.checkOwner("hide"); err != nil {
		return err
	}
	if err := c.checkLive("hide"); err != nil {
		return err
	}
	if err := c.plat.HideWindow(c.Handle()); err != nil {
		return message.Wrap(message.CodeWindowClosed, err, "failed to hide window %s", c.ID())
	}
	if c.life.SetVisible(false) {
		c.fire(lifecycle.EventHidden, nil)
	}
	return nil
}

func (c *core) SetTitle(title string) error {
	if err := c.checkOwner("set_title"); err != nil {
		return err
	}
	if err := c.checkLive("set_title"); err != nil {
		return err
	}
	return c.setTitle(title)
}

func (c *core) setTitle(title string) error {
	if err := c.plat.SetTitle(c.Handle(), title); err != nil {
		return message.Wrap(message.CodeWindowClosed, err, "failed to set title of window %s", c.ID())
	}
	c.mu.Lock()
	c.title = title
	c.mu.Unlock()
	return nil
}

func (c *core) LoadContent(ctx context.Context, src content.Source) error {
	if err := c.checkOwner("load_content"); err != nil {
		return err
	}
	if err := c.checkLive("load_content"); err != nil {
		return err
	}
	return c.load(ctx, src)
}

// load replaces the page. A page title is adopted when the window config
// does not fix one.
func (c *core) load(ctx context.Context, src content.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if err := c.renderer.Load(ctx, src); err != nil {
		return err
	}
	if c.cfg.Title == "" {
		if title := c.renderer.Title(); title != "" {
			if err := c.setTitle(title); err != nil {
				c.logger.Warn("failed to adopt page title", "error", err)
			}
		}
	}
	c.logger.Debug("content loaded", "source", src.String())
	return nil
}

func (c *core) ExecuteScript(src string) error {
	if err := c.checkOwner("execute_script"); err != nil {
		return err
	}
	if err := c.checkLive("execute_script"); err != nil {
		return err
	}
	return c.renderer.Exec(src)
}

func (c *core) Emit(name string, payload any) error {
	if err := c.checkOwner("emit"); err != nil {
		return err
	}
	if err := c.checkLive("emit"); err != nil {
		return err
	}
	raw, err := message.EncodePayload(payload)
	if err != nil {
		return err
	}
	_, err = c.renderer.Emit(name, raw)
	return err
}

// fire delivers a lifecycle event to automation listeners and to content,
// and reports whether either side vetoed it.
func (c *core) fire(name string, payload any) bool {
	raw, err := message.EncodePayload(payload)
	if err != nil {
		c.logger.Warn("dropping event with unencodable payload", "event", name, "error", err)
		return false
	}
	vetoed := c.router.Publish(bridge.Event{Name: name, Payload: raw})
	contentVeto, err := c.renderer.Emit(name, raw)
	if err != nil {
		c.logger.Debug("content did not take event", "event", name, "error", err)
	}
	return vetoed || contentVeto
}

func (c *core) ProcessEvents() bool {
	c.owner.Claim()
	if err := c.checkOwner("process_events"); err != nil {
		c.logger.Error("tick rejected", "error", err)
		return false
	}
	if c.life.State() >= lifecycle.Closed {
		return false
	}

	flagged := c.pump.Tick()
	c.router.Drain()
	c.renderer.ProcessEvents()

	if flagged && c.life.State() < lifecycle.Closing {
		select {
		case c.closeRequested <- struct{}{}:
			c.logger.Debug("close requested", "reasons", c.pump.Reasons().String())
		default:
		}
		return true
	}
	return false
}

func (c *core) Close() error {
	if err := c.checkOwner("close"); err != nil {
		return err
	}
	if c.tearingDown || c.life.State() >= lifecycle.Closing {
		return nil
	}
	c.tearingDown = true
	defer func() { c.tearingDown = false }()

	// A window that is already gone cannot be kept open.
	gone := c.pump.Reasons()&(pump.DestroyedExternally|pump.HandleInvalid) != 0 || !c.plat.IsWindow(c.Handle())
	if gone {
		c.logger.Debug("native window already gone, skipping closing veto")
	} else if c.fire(lifecycle.EventClosing, nil) {
		c.pump.Reset()
		c.logger.Info("close vetoed", "state", c.life.State().String())
		return message.Errorf(message.CodeVetoed, "close of window %s vetoed by a closing listener", c.ID())
	}

	if _, err := c.life.Transition(lifecycle.Closing); err != nil {
		return err
	}
	c.teardown(gone)
	return nil
}

func (c *core) teardown(gone bool) {
	if h := c.Handle(); !gone && c.plat.IsWindow(h) {
		if err := c.plat.DestroyWindow(h); err != nil {
			c.logger.Warn("failed to destroy native window", "handle", uint64(h), "error", err)
		}
	} else if h != 0 {
		c.plat.Release(h)
	}
	if _, err := c.life.Transition(lifecycle.Closed); err != nil {
		c.logger.Error("unexpected lifecycle state during teardown", "error", err)
	}
	c.fire(lifecycle.EventClosed, nil)
	if err := c.renderer.Close(); err != nil {
		c.logger.Warn("failed to close renderer", "error", err)
	}

	reason := "window " + c.ID() + " destroyed"
	cancelled := 0
	if c.reg != nil {
		c.reg.Unregister(c.ID())
	}
	cancelled += c.router.Close(reason)
	if _, err := c.life.Transition(lifecycle.Destroyed); err != nil {
		c.logger.Error("unexpected lifecycle state during teardown", "error", err)
	}

	// Work marshalled before the queue closed still runs so that its
	// waiters see the window is gone.
	for _, item := range c.queue.Close() {
		if item.Task != nil {
			c.runLeftover(item.Task)
		}
	}
	close(c.destroyed)
	c.logger.Info("window destroyed", "cancelled_calls", cancelled)
}

func (c *core) runLeftover(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("queued task panicked during teardown", "panic", rec)
		}
	}()
	task()
}

// RunBlockingLoop is only available on standalone windows.
func (c *core) RunBlockingLoop(context.Context) error {
	return message.Errorf(message.CodeUnsupported,
		"%s windows are ticked by their host; call ProcessEvents instead", c.cfg.Mode)
}
