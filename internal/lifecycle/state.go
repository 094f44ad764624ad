package lifecycle

import (
	"fmt"
	"sync"
)

// State is the main lifecycle path of a window.
type State int

const (
	Created State = iota
	Shown
	Focused
	Blurred
	Closing
	Closed
	Destroyed
)

var stateNames = [...]string{"created", "shown", "focused", "blurred", "closing", "closed", "destroyed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Live reports whether the window has not started closing.
func (s State) Live() bool {
	return s < Closing
}

// Presentation is the minimize/maximize/fullscreen sub-state. It is
// orthogonal to State and never affects closing.
type Presentation int

const (
	Normal Presentation = iota
	Minimized
	Maximized
	Fullscreen
)

func (p Presentation) String() string {
	switch p {
	case Normal:
		return "normal"
	case Minimized:
		return "minimized"
	case Maximized:
		return "maximized"
	case Fullscreen:
		return "fullscreen"
	}
	return fmt.Sprintf("presentation(%d)", int(p))
}

// ErrInvalidTransition is returned for moves the state graph forbids.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid lifecycle transition %s -> %s", e.From, e.To)
}

var allowed = map[State][]State{
	Created: {Shown, Closing},
	Shown:   {Focused, Blurred, Closing},
	Focused: {Blurred, Closing},
	Blurred: {Focused, Closing},
	Closing: {Closed},
	Closed:  {Destroyed},
}

// Machine holds a window's lifecycle. Mutations come from the owning
// thread; reads may come from anywhere.
type Machine struct {
	mu           sync.RWMutex
	state        State
	presentation Presentation
	visible      bool
	observers    []func(from, to State)
}

func NewMachine() *Machine {
	return &Machine{}
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) Presentation() Presentation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.presentation
}

func (m *Machine) Visible() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visible
}

// Observe registers fn to be told about every state change. fn runs after
// the lock is released.
func (m *Machine) Observe(fn func(from, to State)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Transition moves to the target state. Re-entering the current state is a
// no-op reporting changed=false. Past Closing only forward moves succeed.
func (m *Machine) Transition(to State) (bool, error) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return false, nil
	}
	ok := false
	for _, next := range allowed[from] {
		if next == to {
			ok = true
			break
		}
	}
	if !ok {
		m.mu.Unlock()
		return false, &ErrInvalidTransition{From: from, To: to}
	}
	m.state = to
	if to == Shown {
		m.visible = true
	}
	if to >= Closed {
		m.visible = false
	}
	observers := append([]func(from, to State){}, m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(from, to)
	}
	return true, nil
}

// SetVisible records map/unmap. It reports whether visibility changed and is
// ignored once the window is closing.
func (m *Machine) SetVisible(visible bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Live() || m.visible == visible {
		return false
	}
	m.visible = visible
	return true
}

// SetPresentation records the sub-state and reports whether it changed.
func (m *Machine) SetPresentation(p Presentation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Live() || m.presentation == p {
		return false
	}
	m.presentation = p
	return true
}
