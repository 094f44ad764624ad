package registry

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/1broseidon/hostview/internal/message"
	"github.com/oklog/ulid/v2"
)

// Instance is what the registry needs from a live window.
type Instance interface {
	// Deliver pushes an event into the window's content runtime. It must be
	// safe to call from any goroutine.
	Deliver(name string, payload json.RawMessage) error
	// CancelPending resolves every outstanding call of the window with
	// Cancelled.
	CancelPending(reason string) int
}

// Registry tracks live windows. It is created explicitly and handed to
// whoever needs it; the lock is never held while calling into an Instance.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	retired  map[string]struct{}
	active   string
	sequence uint64
	logger   *slog.Logger
}

type entry struct {
	inst Instance
	seq  uint64
}

// Info describes one registered window.
type Info struct {
	ID       string
	Sequence uint64
	Active   bool
	Instance Instance
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		retired: make(map[string]struct{}),
		logger:  logger.With("component", "registry"),
	}
}

// Register adds inst under uid, generating one when uid is empty. Ids of
// live or already unregistered windows are refused with DuplicateId.
func (r *Registry) Register(inst Instance, uid string) (string, error) {
	if inst == nil {
		return "", message.Errorf(message.CodeInvalidRequest, "nil instance")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if uid == "" {
		uid = r.generateLocked()
	} else if _, live := r.entries[uid]; live {
		return "", message.Errorf(message.CodeDuplicateID, "window %q is already registered", uid)
	} else if _, gone := r.retired[uid]; gone {
		return "", message.Errorf(message.CodeDuplicateID, "window id %q belonged to a destroyed window", uid)
	}

	r.sequence++
	r.entries[uid] = &entry{inst: inst, seq: r.sequence}
	if r.active == "" {
		r.active = uid
	}
	r.logger.Debug("window registered", "id", uid, "seq", r.sequence)
	return uid, nil
}

// NewID returns a fresh window id.
func NewID() string {
	return "w-" + strings.ToLower(ulid.Make().String())
}

func (r *Registry) generateLocked() string {
	for {
		uid := NewID()
		_, live := r.entries[uid]
		_, gone := r.retired[uid]
		if !live && !gone {
			return uid
		}
	}
}

// Unregister removes uid and cancels its outstanding calls. It reports
// whether anything was removed; a second call is a no-op.
func (r *Registry) Unregister(uid string) bool {
	r.mu.Lock()
	e, ok := r.entries[uid]
	if ok {
		delete(r.entries, uid)
		r.retired[uid] = struct{}{}
		if r.active == uid {
			r.active = ""
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancelled := e.inst.CancelPending("window " + uid + " destroyed")
	r.logger.Debug("window unregistered", "id", uid, "cancelled_calls", cancelled)
	return true
}

func (r *Registry) Get(uid string) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uid]
	if !ok {
		return nil, false
	}
	return e.inst, true
}

// Active returns the active window, if any.
func (r *Registry) Active() (string, Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == "" {
		return "", nil, false
	}
	e, ok := r.entries[r.active]
	if !ok {
		return "", nil, false
	}
	return r.active, e.inst, true
}

// SetActive marks uid as the active window.
func (r *Registry) SetActive(uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[uid]; !ok {
		return message.Errorf(message.CodeNotFound, "window %q is not registered", uid)
	}
	r.active = uid
	return nil
}

// All returns every registered window in registration order.
func (r *Registry) All() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.entries))
	for uid, e := range r.entries {
		out = append(out, Info{ID: uid, Sequence: e.seq, Active: uid == r.active, Instance: e.inst})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// current reports whether uid is still the registration seen as seq.
func (r *Registry) current(uid string, seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uid]
	return ok && e.seq == seq
}

// Broadcast delivers an event to every window except those in exclude and
// returns how many deliveries succeeded. Failures are logged and skipped.
func (r *Registry) Broadcast(name string, payload json.RawMessage, exclude ...string) int {
	skip := make(map[string]struct{}, len(exclude))
	for _, uid := range exclude {
		skip[uid] = struct{}{}
	}

	delivered := 0
	for _, info := range r.All() {
		if _, excluded := skip[info.ID]; excluded {
			continue
		}
		// Windows unregistered after the snapshot are skipped.
		if !r.current(info.ID, info.Sequence) {
			continue
		}
		if err := info.Instance.Deliver(name, payload); err != nil {
			r.logger.Warn("broadcast delivery failed", "id", info.ID, "event", name, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// SendTo delivers an event to one window. An unknown uid is logged and
// ignored.
func (r *Registry) SendTo(uid, name string, payload json.RawMessage) bool {
	inst, ok := r.Get(uid)
	if !ok {
		r.logger.Info("send to unknown window ignored", "id", uid, "event", name)
		return false
	}
	if err := inst.Deliver(name, payload); err != nil {
		r.logger.Warn("event delivery failed", "id", uid, "event", name, "error", err)
		return false
	}
	return true
}

// Close unregisters every window, cancelling their outstanding calls.
func (r *Registry) Close() {
	for _, info := range r.All() {
		r.Unregister(info.ID)
	}
}
