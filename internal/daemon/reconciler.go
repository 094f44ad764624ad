package daemon

import (
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/1broseidon/hostview/internal/backend"
	"github.com/1broseidon/hostview/internal/lifecycle"
	"github.com/1broseidon/hostview/internal/message"
)

// WindowLister returns the windows the runtime currently ticks.
type WindowLister func() []*backend.Window

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	AutoClose bool
	Logger    *slog.Logger
}

// Reconciler acts on what the last tick observed: windows that asked to be
// closed are closed, and destroyed windows stop being ticked.
type Reconciler struct {
	autoClose   bool
	listWindows WindowLister
	forget      func(id string)
	logger      *slog.Logger
}

// NewReconciler creates a reconciler over the windows returned by
// listWindows. forget is called for every window found destroyed.
func NewReconciler(cfg ReconcilerConfig, listWindows WindowLister, forget func(id string)) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		autoClose:   cfg.AutoClose,
		listWindows: listWindows,
		forget:      forget,
		logger:      logger.With("component", "reconciler"),
	}
}

// reconcile performs a single pass. It must run on the runtime goroutine.
func (r *Reconciler) reconcile() {
	// Recover from panics to prevent crashing the daemon
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("reconciler panic recovered", "error", err)
		}
	}()

	for _, w := range r.listWindows() {
		if w.State() != lifecycle.Destroyed && r.autoClose {
			r.closeIfRequested(w)
		}
		if w.State() == lifecycle.Destroyed {
			r.logger.Debug("reaping destroyed window", "window", w.ID())
			r.forget(w.ID())
		}
	}
}

func (r *Reconciler) closeIfRequested(w *backend.Window) {
	select {
	case <-w.CloseRequested():
	default:
		return
	}
	err := w.Backend().Close()
	switch {
	case err == nil:
		r.logger.Info("window closed on request", "window", w.ID())
	case errors.Is(err, message.ErrVetoed):
		r.logger.Info("close request vetoed", "window", w.ID())
	default:
		r.logger.Warn("failed to close window", "window", w.ID(), "error", err)
	}
}

func sortWindows(ws []*backend.Window) {
	slices.SortFunc(ws, func(a, b *backend.Window) int { return strings.Compare(a.ID(), b.ID()) })
}
