package platform

import (
	"fmt"
	"sync"
)

// Sim is an in-memory provider. It backs headless runs and lets tests
// inject native messages the way a window manager would.
type Sim struct {
	mu         sync.Mutex
	next       Handle
	windows    map[Handle]*simWindow
	thread     threadQueue
	createErr  error
	display    Display
	destroyLog []Handle
	releaseLog []Handle
	closed     bool
}

type simWindow struct {
	spec    WindowSpec
	title   string
	visible bool
	inbox   []Message
}

var _ Platform = (*Sim)(nil)

func NewSim() *Sim {
	return &Sim{
		windows: make(map[Handle]*simWindow),
		display: Display{ID: 0, Name: "sim-0", Bounds: Rect{Width: 1920, Height: 1080}},
	}
}

func (s *Sim) Name() string { return "headless" }

// FailNextCreate makes the next CreateWindow return err.
func (s *Sim) FailNextCreate(err error) {
	s.mu.Lock()
	s.createErr = err
	s.mu.Unlock()
}

func (s *Sim) CreateWindow(spec WindowSpec) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrUnavailable
	}
	if err := s.createErr; err != nil {
		s.createErr = nil
		return 0, err
	}
	if spec.Policy != ParentNone {
		if _, ok := s.windows[spec.Parent]; !ok {
			return 0, fmt.Errorf("parent %d: %w", spec.Parent, ErrInvalidHandle)
		}
	}
	if spec.Center {
		spec.Bounds = CenterIn(spec.Bounds, s.display.Bounds)
	}
	s.next++
	h := s.next
	s.windows[h] = &simWindow{spec: spec, title: spec.Title}
	return h, nil
}

func (s *Sim) DestroyWindow(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[h]; !ok {
		return ErrInvalidHandle
	}
	s.destroyLocked(h)
	return nil
}

// Child windows go down with their parent, as on a real window system.
func (s *Sim) destroyLocked(h Handle) {
	delete(s.windows, h)
	s.destroyLog = append(s.destroyLog, h)
	for child, w := range s.windows {
		if w.spec.Policy == ParentChild && w.spec.Parent == h {
			s.destroyLocked(child)
		}
	}
}

func (s *Sim) ShowWindow(h Handle) error {
	return s.setVisible(h, true)
}

func (s *Sim) HideWindow(h Handle) error {
	return s.setVisible(h, false)
}

func (s *Sim) setVisible(h Handle, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[h]
	if !ok {
		return ErrInvalidHandle
	}
	if w.visible == visible {
		return nil
	}
	w.visible = visible
	code := CodeMap
	if !visible {
		code = CodeUnmap
	}
	w.inbox = append(w.inbox, Message{Window: h, Code: code})
	return nil
}

func (s *Sim) SetTitle(h Handle, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[h]
	if !ok {
		return ErrInvalidHandle
	}
	w.title = title
	return nil
}

func (s *Sim) IsWindow(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.windows[h]
	return ok
}

func (s *Sim) PeekWindowMessages(h Handle) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[h]
	if !ok || len(w.inbox) == 0 {
		return nil
	}
	msgs := w.inbox
	w.inbox = nil
	return msgs
}

func (s *Sim) PeekThreadMessages() []Message {
	return s.thread.take()
}

func (s *Sim) PostQuit() error {
	s.mu.Lock()
	for h, w := range s.windows {
		w.inbox = append(w.inbox, Message{Window: h, Code: CodeQuit, Name: ProtocolQuit})
	}
	s.mu.Unlock()
	s.thread.push(Message{Code: CodeQuit, Name: ProtocolQuit})
	return nil
}

func (s *Sim) Release(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[h]; ok {
		w.inbox = nil
	}
	s.releaseLog = append(s.releaseLog, h)
}

func (s *Sim) ActiveDisplay() (Display, error) {
	return s.display, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Post queues msg for h as if the window system had sent it. Messages for
// unknown handles land in the thread-wide queue.
func (s *Sim) Post(h Handle, msg Message) {
	s.mu.Lock()
	msg.Window = h
	if w, ok := s.windows[h]; ok {
		w.inbox = append(w.inbox, msg)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.thread.push(msg)
}

// PostClose simulates the user clicking the close button.
func (s *Sim) PostClose(h Handle) {
	s.Post(h, Message{Code: CodeClientMessage, Name: ProtocolDeleteWindow})
}

// DestroyExternally removes the window without leaving any message, like a
// window killed by another client.
func (s *Sim) DestroyExternally(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[h]; ok {
		s.destroyLocked(h)
	}
}

// Spec returns the creation spec and current title of h.
func (s *Sim) Spec(h Handle) (WindowSpec, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[h]
	if !ok {
		return WindowSpec{}, "", false
	}
	return w.spec, w.title, true
}

// Visible reports whether h is mapped.
func (s *Sim) Visible(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[h]
	return ok && w.visible
}

// Destroyed returns handles passed to DestroyWindow or destroyed externally,
// in order.
func (s *Sim) Destroyed() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Handle(nil), s.destroyLog...)
}

// Released returns handles passed to Release, in order.
func (s *Sim) Released() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Handle(nil), s.releaseLog...)
}
