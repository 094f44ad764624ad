package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/hostview/internal/message"
	"github.com/1broseidon/hostview/internal/thread"
	"github.com/oklog/ulid/v2"
)

// DefaultTimeout applies to calls made without an explicit timeout.
const DefaultTimeout = 30 * time.Second

// Handler serves a request. The returned value becomes the response payload.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Event is a named notification without a correlation id.
type Event struct {
	Window  string          `json:"window,omitempty"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return message.DecodePayload(e.Payload, v)
}

// Listener receives events. Returning ErrDeny from a "closing" listener
// vetoes the close.
type Listener func(Event) error

// ErrDeny is returned by a listener to veto the event it received.
var ErrDeny = errors.New("denied by listener")

type callerKey struct{}

// CallerWindow returns the id of the window whose router runs the handler
// holding ctx.
func CallerWindow(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// Remote is the content side of a window: methods bound from script.
type Remote interface {
	HasMethod(name string) bool
	CallMethod(name string, payload json.RawMessage) (json.RawMessage, error)
}

// Config wires a Router to its window.
type Config struct {
	Window         string
	Queue          *message.Queue
	Owner          *thread.Owner
	Capabilities   *Capabilities
	DefaultTimeout time.Duration
	// Pump drains the window's queue once; Await uses it on the owning
	// thread.
	Pump   func()
	Logger *slog.Logger
}

// Router correlates calls with responses and dispatches requests and events
// for one window. Handlers always run on the owning thread; the lock only
// guards the tables.
type Router struct {
	window  string
	queue   *message.Queue
	owner   *thread.Owner
	caps    *Capabilities
	timeout time.Duration
	pump    func()
	logger  *slog.Logger

	mu           sync.Mutex
	pending      map[string]*slot
	methods      map[string]Handler
	listeners    map[string][]*listenerEntry
	nextListener uint64
	remote       Remote
	closed       bool
}

type slot struct {
	target   string
	deadline time.Time
	deliver  func(Result)
	timer    *time.Timer
}

type listenerEntry struct {
	id uint64
	fn Listener
}

func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	owner := cfg.Owner
	if owner == nil {
		owner = &thread.Owner{}
	}
	queue := cfg.Queue
	if queue == nil {
		queue = message.NewQueue()
	}
	return &Router{
		window:    cfg.Window,
		queue:     queue,
		owner:     owner,
		caps:      cfg.Capabilities,
		timeout:   timeout,
		pump:      cfg.Pump,
		logger:    logger.With("component", "bridge", "window", cfg.Window),
		pending:   make(map[string]*slot),
		methods:   make(map[string]Handler),
		listeners: make(map[string][]*listenerEntry),
	}
}

// SetRemote attaches the content runtime.
func (r *Router) SetRemote(remote Remote) {
	r.mu.Lock()
	r.remote = remote
	r.mu.Unlock()
}

// Bind registers a bound method, replacing any previous one of that name.
func (r *Router) Bind(name string, h Handler) error {
	if name == "" || h == nil {
		return message.Errorf(message.CodeInvalidRequest, "bind needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return message.ErrWindowClosed
	}
	r.methods[name] = h
	return nil
}

func (r *Router) Unbind(name string) {
	r.mu.Lock()
	delete(r.methods, name)
	r.mu.Unlock()
}

// On registers l for events called name and returns a function removing it.
func (r *Router) On(name string, l Listener) func() {
	r.mu.Lock()
	r.nextListener++
	entry := &listenerEntry{id: r.nextListener, fn: l}
	r.listeners[name] = append(r.listeners[name], entry)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		current := r.listeners[name]
		for i, e := range current {
			if e.id == entry.id {
				r.listeners[name] = append(current[:i:i], current[i+1:]...)
				return
			}
		}
	}
}

// Call issues a request. From the owning thread it dispatches in place;
// from anywhere else it is queued for the owner's next drain. The future
// resolves with the response, Timeout or Cancelled.
func (r *Router) Call(target string, payload any, timeout time.Duration) *Future {
	f := newFuture(r, target)
	raw, err := message.EncodePayload(payload)
	if err != nil {
		f.resolve(Result{Err: err})
		return f
	}
	id, err := r.register(target, timeout, f.resolve)
	if err != nil {
		f.resolve(Result{Err: err})
		return f
	}
	f.id = id

	env := &message.Envelope{CorrelationID: id, Direction: message.Request, Target: target, Payload: raw}
	if r.owner.IsCurrent() {
		r.Dispatch(env)
		return f
	}
	if err := r.queue.Push(env); err != nil {
		r.fail(id, message.Wrap(message.CodeCancelled, err, "window %s is closed", r.window))
	}
	return f
}

// Invoke serves hostview.invoke from content. It runs on the owning thread;
// reply is always called there too.
func (r *Router) Invoke(target string, payload json.RawMessage, reply func(json.RawMessage, error)) {
	deliver := func(res Result) {
		r.onOwner(func() { reply(res.Payload, res.Err) })
	}
	id, err := r.register(target, 0, deliver)
	if err != nil {
		reply(nil, err)
		return
	}
	r.Dispatch(&message.Envelope{CorrelationID: id, Direction: message.Request, Target: target, Payload: payload})
}

// SendEvent serves hostview.send_event from content.
func (r *Router) SendEvent(name string, payload json.RawMessage) {
	r.Publish(Event{Window: r.window, Name: name, Payload: payload})
}

func (r *Router) register(target string, timeout time.Duration, deliver func(Result)) (string, error) {
	if target == "" {
		return "", message.Errorf(message.CodeInvalidRequest, "call has no target")
	}
	if timeout <= 0 {
		timeout = r.timeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", message.Errorf(message.CodeCancelled, "window %s is closed", r.window)
	}
	id := ulid.Make().String()
	for {
		if _, taken := r.pending[id]; !taken {
			break
		}
		id = ulid.Make().String()
	}
	s := &slot{target: target, deadline: time.Now().Add(timeout), deliver: deliver}
	s.timer = time.AfterFunc(timeout, func() { r.expire(id, timeout) })
	r.pending[id] = s
	return id, nil
}

func (r *Router) take(id string) *slot {
	r.mu.Lock()
	s, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok && s.timer != nil {
		s.timer.Stop()
	}
	return s
}

func (r *Router) expire(id string, timeout time.Duration) {
	s := r.take(id)
	if s == nil {
		return
	}
	r.logger.Debug("call timed out", "target", s.target, "correlation_id", id, "timeout", timeout)
	s.deliver(Result{Err: message.Errorf(message.CodeTimeout, "call %q timed out after %s", s.target, timeout)})
}

func (r *Router) fail(id string, err error) {
	if s := r.take(id); s != nil {
		s.deliver(Result{Err: err})
	}
}

// abandon forgets a call whose caller stopped waiting.
func (r *Router) abandon(id string) {
	if id != "" {
		r.take(id)
	}
}

// Dispatch routes one envelope. Must run on the owning thread.
func (r *Router) Dispatch(env *message.Envelope) {
	switch env.Direction {
	case message.Request:
		r.deliverResponse(r.handle(env))
	case message.Response:
		r.deliverResponse(env)
	case message.Event:
		r.Publish(Event{Window: r.window, Name: env.Target, Payload: env.Payload})
	default:
		r.logger.Warn("dropping envelope with unknown direction", "direction", env.Direction, "target", env.Target)
	}
}

// deliverResponse hands a response to the caller that issued its id. It
// reports false when nobody is waiting any more.
func (r *Router) deliverResponse(resp *message.Envelope) bool {
	s := r.take(resp.CorrelationID)
	if s == nil {
		r.logger.Warn("dropping response for unknown correlation id",
			"correlation_id", resp.CorrelationID, "target", resp.Target)
		return false
	}
	s.deliver(Result{Payload: resp.Payload, Err: resp.Error.Err()})
	return true
}

func (r *Router) handle(req *message.Envelope) *message.Envelope {
	r.mu.Lock()
	method, bound := r.methods[req.Target]
	remote := r.remote
	deadline := time.Now().Add(r.timeout)
	if s, ok := r.pending[req.CorrelationID]; ok {
		deadline = s.deadline
	}
	r.mu.Unlock()

	ctx, cancel := context.WithDeadline(context.WithValue(context.Background(), callerKey{}, r.window), deadline)
	defer cancel()

	switch {
	case bound:
		result, err := r.invoke(ctx, req, method)
		return message.NewResponse(req, result, err)
	case remote != nil && remote.HasMethod(req.Target):
		result, err := remote.CallMethod(req.Target, req.Payload)
		return message.NewResponse(req, result, err)
	}
	if h, ok := r.caps.Lookup(req.Target); ok {
		result, err := r.invoke(ctx, req, h)
		return message.NewResponse(req, result, err)
	}
	return message.NewResponse(req, nil, message.Errorf(message.CodeNotFound, "no handler for %q", req.Target))
}

func (r *Router) invoke(ctx context.Context, req *message.Envelope, h Handler) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked", "target", req.Target, "panic", rec)
			result = nil
			err = message.Errorf(message.CodeHandler, "handler for %q panicked: %v", req.Target, rec)
		}
	}()
	return h(ctx, req.Payload)
}

// Publish fans ev out to its listeners in registration order and reports
// whether any of them returned ErrDeny. Listener failures are logged and do
// not stop delivery.
func (r *Router) Publish(ev Event) bool {
	if ev.Window == "" {
		ev.Window = r.window
	}
	r.mu.Lock()
	entries := append([]*listenerEntry(nil), r.listeners[ev.Name]...)
	r.mu.Unlock()

	vetoed := false
	for _, entry := range entries {
		if err := r.notify(entry.fn, ev); err != nil {
			if errors.Is(err, ErrDeny) {
				vetoed = true
				continue
			}
			r.logger.Warn("listener failed", "event", ev.Name, "error", err)
		}
	}
	return vetoed
}

func (r *Router) notify(fn Listener, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("listener panicked: %v", rec)
		}
	}()
	return fn(ev)
}

// Pending returns the number of outstanding calls.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// CancelAll resolves every outstanding call with Cancelled and returns how
// many there were.
func (r *Router) CancelAll(reason string) int {
	r.mu.Lock()
	slots := r.pending
	r.pending = make(map[string]*slot)
	r.mu.Unlock()

	for id, s := range slots {
		if s.timer != nil {
			s.timer.Stop()
		}
		r.logger.Debug("cancelling call", "target", s.target, "correlation_id", id)
		s.deliver(Result{Err: message.Errorf(message.CodeCancelled, "call %q cancelled: %s", s.target, reason)})
	}
	return len(slots)
}

// Close cancels everything outstanding and rejects new calls.
func (r *Router) Close(reason string) int {
	r.mu.Lock()
	r.closed = true
	r.methods = make(map[string]Handler)
	r.remote = nil
	r.mu.Unlock()
	return r.CancelAll(reason)
}

// Drain processes everything queued for the window so far: envelopes are
// dispatched, marshalled tasks are run. Must run on the owning thread.
func (r *Router) Drain() int {
	items := r.queue.Drain()
	for _, item := range items {
		switch {
		case item.Envelope != nil:
			r.Dispatch(item.Envelope)
		case item.Task != nil:
			r.runTask(item.Task)
		}
	}
	return len(items)
}

func (r *Router) runTask(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("queued task panicked", "panic", rec)
		}
	}()
	task()
}

// Queue returns the window inbox the router feeds.
func (r *Router) Queue() *message.Queue { return r.queue }

func (r *Router) onOwner(fn func()) {
	if r.owner.IsCurrent() {
		fn()
		return
	}
	if err := r.queue.PushTask(fn); err != nil {
		r.logger.Debug("dropping reply for closed window", "error", err)
	}
}

func (r *Router) pumpOnce() {
	if r.pump != nil {
		r.pump()
		return
	}
	r.Drain()
}
