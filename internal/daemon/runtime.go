// Package daemon runs the long-lived window runtime: it owns the registry,
// the capability table and the platform, and ticks every window it opened
// from one goroutine locked to its OS thread.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/1broseidon/hostview/internal/backend"
	"github.com/1broseidon/hostview/internal/bridge"
	"github.com/1broseidon/hostview/internal/config"
	"github.com/1broseidon/hostview/internal/content"
	"github.com/1broseidon/hostview/internal/lifecycle"
	"github.com/1broseidon/hostview/internal/message"
	"github.com/1broseidon/hostview/internal/platform"
	"github.com/1broseidon/hostview/internal/registry"
	"github.com/1broseidon/hostview/internal/thread"
	"golang.org/x/time/rate"
)

// Config holds what a Runtime is built from.
type Config struct {
	Platform platform.Platform
	Settings *config.Config
	Logger   *slog.Logger
	// KeepOnCloseRequest leaves windows open when the user asks to close
	// them; whoever watches Window.CloseRequested decides instead. The
	// window keeps its shown state until Close is called.
	KeepOnCloseRequest bool
}

// Runtime owns every window it opens. All native and content work happens
// on the goroutine running Run; the exported methods may be called from
// anywhere and are marshalled onto it.
type Runtime struct {
	plat      platform.Platform
	reg       *registry.Registry
	caps      *bridge.Capabilities
	logger    *slog.Logger
	tasks     *message.Queue
	owner     thread.Owner
	recon     *Reconciler
	startTime time.Time
	started   chan struct{}

	cfgMu sync.RWMutex
	cfg   *config.Config

	mu      sync.Mutex
	windows map[string]*backend.Window
	idle    []func() bool
	stopped bool
}

// OpenRequest selects a window preset and the per-window overrides.
type OpenRequest struct {
	Preset  string
	ID      string
	Title   string
	Content content.Source
	Hidden  bool
}

// WindowInfo describes one window known to the registry.
type WindowInfo struct {
	backend.Info
	Active bool `json:"active"`
}

// Status is a snapshot of the runtime.
type Status struct {
	Platform      string `json:"platform"`
	Windows       int    `json:"windows"`
	Active        string `json:"active,omitempty"`
	PendingCalls  int    `json:"pending_calls"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Running       bool   `json:"running"`
}

var _ backend.Toolkit = (*Runtime)(nil)

func New(cfg Config) (*Runtime, error) {
	if cfg.Platform == nil {
		return nil, fmt.Errorf("daemon: no platform")
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		plat:      cfg.Platform,
		reg:       registry.New(logger),
		caps:      bridge.NewCapabilities(),
		logger:    logger.With("component", "runtime"),
		tasks:     message.NewQueue(),
		startTime: time.Now(),
		started:   make(chan struct{}),
		cfg:       settings,
		windows:   make(map[string]*backend.Window),
	}
	r.recon = NewReconciler(ReconcilerConfig{
		AutoClose: !cfg.KeepOnCloseRequest,
		Logger:    logger,
	}, r.tracked, r.forget)
	if err := r.registerBuiltins(); err != nil {
		return nil, fmt.Errorf("failed to register runtime capabilities: %w", err)
	}
	return r, nil
}

func (r *Runtime) Registry() *registry.Registry { return r.reg }

// Capabilities is the table shared by every window of the runtime.
// Capabilities registered here are callable from all windows.
func (r *Runtime) Capabilities() *bridge.Capabilities { return r.caps }

func (r *Runtime) Platform() platform.Platform { return r.plat }

// Config returns the settings new windows are opened with.
func (r *Runtime) Config() *config.Config {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg
}

// SetConfig swaps the settings used for windows opened from now on. Open
// windows keep the config they were created with.
func (r *Runtime) SetConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("daemon: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.cfgMu.Lock()
	r.cfg = cfg
	r.cfgMu.Unlock()
	r.logger.Info("config swapped", "windows", len(cfg.Windows), "default_window", cfg.DefaultWindow)
	return nil
}

// ScheduleIdle lets integrated windows opened by the runtime be driven by
// its loop as if it were their host toolkit.
func (r *Runtime) ScheduleIdle(fn func() bool) {
	r.mu.Lock()
	r.idle = append(r.idle, fn)
	r.mu.Unlock()
}

// Open creates a window from a preset on the runtime goroutine. It blocks
// until Run picks the request up.
func (r *Runtime) Open(ctx context.Context, req OpenRequest) (*backend.Window, error) {
	settings := r.Config()
	preset := req.Preset
	if preset == "" {
		preset = settings.DefaultWindow
	}
	wc, err := settings.Window(preset)
	if err != nil {
		return nil, err
	}
	if req.ID != "" {
		wc.ID = req.ID
	}
	if req.Title != "" {
		wc.Title = req.Title
	}
	if !req.Content.IsZero() {
		wc.Content = req.Content
	}

	var w *backend.Window
	err = r.do(ctx, "open", func() error {
		win, err := backend.New(ctx, wc, r.deps(settings))
		if err != nil {
			return err
		}
		r.track(win)
		// The first tick claims owner-policy and integrated windows for
		// this goroutine.
		win.Backend().ProcessEvents()
		if !req.Hidden {
			if err := win.Backend().Show(); err != nil {
				return err
			}
		}
		w = win
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("window opened", "window", w.ID(), "preset", preset, "mode", string(wc.Mode))
	return w, nil
}

func (r *Runtime) deps(settings *config.Config) backend.Deps {
	return backend.Deps{
		Platform:     r.plat,
		Registry:     r.reg,
		Capabilities: r.caps,
		Toolkit:      r,
		CallTimeout:  settings.CallTimeout(),
		TickInterval: settings.TickInterval(),
		Logger:       r.logger,
	}
}

// Window returns the registered window uid, or the active one for "".
func (r *Runtime) Window(uid string) (*backend.Window, error) {
	if uid == "" {
		id, inst, ok := r.reg.Active()
		if !ok {
			return nil, message.Errorf(message.CodeNotFound, "no active window")
		}
		uid = id
		if w, ok := inst.(*backend.Window); ok {
			return w, nil
		}
	}
	inst, ok := r.reg.Get(uid)
	if !ok {
		return nil, message.Errorf(message.CodeNotFound, "window %q is not registered", uid)
	}
	w, ok := inst.(*backend.Window)
	if !ok {
		return nil, message.Errorf(message.CodeNotFound, "window %q is not a runtime window", uid)
	}
	return w, nil
}

// Windows lists registered windows in registration order.
func (r *Runtime) Windows() []WindowInfo {
	all := r.reg.All()
	out := make([]WindowInfo, 0, len(all))
	for _, info := range all {
		w, ok := info.Instance.(*backend.Window)
		if !ok {
			continue
		}
		out = append(out, WindowInfo{Info: w.Info(), Active: info.Active})
	}
	return out
}

// Close runs the close protocol on uid. Listeners may veto it.
func (r *Runtime) Close(ctx context.Context, uid string) error {
	w, err := r.Window(uid)
	if err != nil {
		return err
	}
	return w.Close(ctx)
}

func (r *Runtime) SetActive(uid string) error {
	return r.reg.SetActive(uid)
}

// Broadcast delivers an event to every window but the excluded ones.
func (r *Runtime) Broadcast(name string, payload any, exclude ...string) (int, error) {
	raw, err := message.EncodePayload(payload)
	if err != nil {
		return 0, err
	}
	return r.reg.Broadcast(name, raw, exclude...), nil
}

// SendTo delivers an event to one window. Unknown ids report false.
func (r *Runtime) SendTo(uid, name string, payload any) (bool, error) {
	raw, err := message.EncodePayload(payload)
	if err != nil {
		return false, err
	}
	return r.reg.SendTo(uid, name, raw), nil
}

func (r *Runtime) Status() Status {
	st := Status{
		Platform:      r.plat.Name(),
		UptimeSeconds: int64(time.Since(r.startTime).Seconds()),
		Running:       r.owner.Claimed() && !r.isStopped(),
	}
	for _, w := range r.Windows() {
		st.Windows++
		st.PendingCalls += w.Pending
		if w.Active {
			st.Active = w.ID
		}
	}
	return st
}

// Started is closed once Run owns the runtime; from then on Status reports
// it as running.
func (r *Runtime) Started() <-chan struct{} { return r.started }

// Run makes the calling goroutine the runtime goroutine, locks it to its OS
// thread and ticks until ctx ends. Open windows are closed on the way out.
func (r *Runtime) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if !r.owner.Claim() {
		return message.Errorf(message.CodeNotOnOwningThread, "runtime already runs on goroutine %d", r.owner.ID())
	}
	if r.isStopped() {
		return fmt.Errorf("daemon: runtime already stopped")
	}
	defer r.shutdown()
	close(r.started)

	interval := r.Config().TickInterval()
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	r.logger.Info("runtime started", "platform", r.plat.Name(), "tick_interval", interval)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		r.tick()
		if next := r.Config().TickInterval(); next != interval {
			interval = next
			limiter.SetLimit(rate.Every(interval))
		}
	}
}

// tick is one pass of the runtime goroutine: marshalled work first, then
// every window, then close requests.
func (r *Runtime) tick() {
	for _, item := range r.tasks.Drain() {
		if item.Task != nil {
			r.runTask(item.Task)
		}
	}
	for _, w := range r.tracked() {
		if w.Backend().Kind() == config.ModeIntegrated {
			continue
		}
		w.Backend().ProcessEvents()
	}
	r.runIdle()
	r.recon.reconcile()
}

func (r *Runtime) runIdle() {
	r.mu.Lock()
	idle := r.idle
	r.idle = nil
	r.mu.Unlock()

	keep := idle[:0]
	for _, fn := range idle {
		if fn() {
			keep = append(keep, fn)
		}
	}
	r.mu.Lock()
	// Callbacks scheduled while the batch ran go after the survivors.
	r.idle = append(keep, r.idle...)
	r.mu.Unlock()
}

func (r *Runtime) shutdown() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	for _, w := range r.tracked() {
		if w.State() == lifecycle.Destroyed {
			continue
		}
		if err := w.Backend().Close(); err != nil {
			r.logger.Warn("window left open at shutdown", "window", w.ID(), "error", err)
		}
	}
	r.reg.Close()
	for _, item := range r.tasks.Close() {
		if item.Task != nil {
			r.runTask(item.Task)
		}
	}
	r.logger.Info("runtime stopped")
}

func (r *Runtime) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Runtime) track(w *backend.Window) {
	r.mu.Lock()
	r.windows[w.ID()] = w
	r.mu.Unlock()
}

func (r *Runtime) forget(uid string) {
	r.mu.Lock()
	delete(r.windows, uid)
	r.mu.Unlock()
}

// tracked returns the runtime's windows in a stable order.
func (r *Runtime) tracked() []*backend.Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*backend.Window, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, w)
	}
	sortWindows(out)
	return out
}

// do runs fn on the runtime goroutine and waits for it.
func (r *Runtime) do(ctx context.Context, op string, fn func() error) error {
	if r.owner.IsCurrent() {
		return fn()
	}
	errc := make(chan error, 1)
	task := func() {
		if r.isStopped() {
			errc <- message.Errorf(message.CodeCancelled, "%s: runtime is shutting down", op)
			return
		}
		errc <- fn()
	}
	if err := r.tasks.PushTask(task); err != nil {
		return message.Wrap(message.CodeCancelled, err, "%s: runtime is stopped", op)
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return message.Abandoned(ctx.Err(), "%s abandoned", op)
	}
}

func (r *Runtime) runTask(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("runtime task panicked", "panic", rec)
		}
	}()
	task()
}

// decodeArgs decodes a capability payload, treating an empty one as {}.
func decodeArgs(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return message.Wrap(message.CodeInvalidRequest, err, "malformed arguments")
	}
	return nil
}
