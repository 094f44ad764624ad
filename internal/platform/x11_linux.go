//go:build linux

package platform

import (
	"fmt"

	"github.com/1broseidon/hostview/internal/x11"
	"github.com/BurntSushi/xgb/xproto"
)

func init() {
	NewX11Func = func() (Platform, error) {
		conn, err := x11.NewConnection()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to connect to X11: %v", ErrUnavailable, err)
		}
		return NewX11(conn), nil
	}
}

// X11 wraps an X11 connection behind the Platform interface.
type X11 struct {
	conn   *x11.Connection
	thread threadQueue
}

var _ Platform = (*X11)(nil)

// NewX11 creates a provider from an existing X11 connection.
func NewX11(conn *x11.Connection) *X11 {
	return &X11{conn: conn}
}

func (p *X11) Name() string { return "x11" }

func (p *X11) connection() (*x11.Connection, error) {
	if p == nil || p.conn == nil {
		return nil, fmt.Errorf("x11 connection is not initialized")
	}
	return p.conn, nil
}

func (p *X11) CreateWindow(spec WindowSpec) (Handle, error) {
	conn, err := p.connection()
	if err != nil {
		return 0, err
	}

	bounds := spec.Bounds
	if spec.Center {
		if display, err := p.ActiveDisplay(); err == nil {
			bounds = CenterIn(bounds, display.Bounds)
		}
	}

	opts := x11.WindowOptions{
		Title:       spec.Title,
		X:           bounds.X,
		Y:           bounds.Y,
		Width:       bounds.Width,
		Height:      bounds.Height,
		Resizable:   spec.Resizable,
		Frameless:   spec.Frameless,
		AlwaysOnTop: spec.AlwaysOnTop,
		SkipTaskbar: spec.ToolWindow,
	}
	switch spec.Policy {
	case ParentChild, ParentOwner:
		parent := xproto.Window(spec.Parent)
		if spec.Parent == 0 || !conn.WindowExists(parent) {
			return 0, fmt.Errorf("parent %d: %w", spec.Parent, ErrInvalidHandle)
		}
		if spec.Policy == ParentChild {
			opts.Parent = parent
		} else {
			opts.TransientFor = parent
		}
	}

	win, err := conn.CreateWindow(opts)
	if err != nil {
		return 0, err
	}
	return Handle(win), nil
}

func (p *X11) DestroyWindow(h Handle) error {
	conn, err := p.connection()
	if err != nil {
		return err
	}
	if err := conn.DestroyWindow(xproto.Window(h)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	return nil
}

func (p *X11) ShowWindow(h Handle) error {
	conn, err := p.connection()
	if err != nil {
		return err
	}
	if err := conn.MapWindow(xproto.Window(h)); err != nil {
		return err
	}
	// Not every window manager honours focus requests.
	_ = conn.FocusWindow(xproto.Window(h))
	return nil
}

func (p *X11) HideWindow(h Handle) error {
	conn, err := p.connection()
	if err != nil {
		return err
	}
	return conn.UnmapWindow(xproto.Window(h))
}

func (p *X11) SetTitle(h Handle, title string) error {
	conn, err := p.connection()
	if err != nil {
		return err
	}
	return conn.SetTitle(xproto.Window(h), title)
}

func (p *X11) IsWindow(h Handle) bool {
	conn, err := p.connection()
	if err != nil || h == 0 {
		return false
	}
	return conn.WindowExists(xproto.Window(h))
}

func (p *X11) PeekWindowMessages(h Handle) []Message {
	conn, err := p.connection()
	if err != nil {
		return nil
	}
	return translateEvents(conn.TakeEvents(xproto.Window(h)))
}

func (p *X11) PeekThreadMessages() []Message {
	conn, err := p.connection()
	if err != nil {
		return nil
	}
	conn.Poll()
	return p.thread.take()
}

func (p *X11) Release(h Handle) {
	if conn, err := p.connection(); err == nil {
		conn.Forget(xproto.Window(h))
	}
}

func (p *X11) PostQuit() error {
	conn, err := p.connection()
	if err != nil {
		return err
	}
	p.thread.push(Message{Code: CodeQuit, Name: ProtocolQuit})
	var firstErr error
	for _, win := range conn.Owned() {
		if err := conn.SendClientMessage(win, ProtocolQuit); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ActiveDisplay returns the monitor the user is looking at.
func (p *X11) ActiveDisplay() (Display, error) {
	conn, err := p.connection()
	if err != nil {
		return Display{}, err
	}
	active, err := conn.ActiveMonitor()
	if err != nil {
		return Display{}, err
	}
	return Display{
		ID:     active.ID,
		Name:   active.Name,
		Bounds: Rect{X: active.X, Y: active.Y, Width: active.Width, Height: active.Height},
	}, nil
}

func (p *X11) Close() error {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
	return nil
}

func translateEvents(events []x11.Event) []Message {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]Message, 0, len(events))
	for _, ev := range events {
		msgs = append(msgs, translateEvent(ev))
	}
	return msgs
}

func translateEvent(ev x11.Event) Message {
	msg := Message{Window: Handle(ev.Window), Name: ev.Atom, Raw: ev.Raw}
	switch ev.Kind {
	case x11.EventClientMessage:
		msg.Code = CodeClientMessage
		if ev.Atom == ProtocolQuit {
			msg.Code = CodeQuit
		}
	case x11.EventDestroy:
		msg.Code = CodeDestroyNotify
	case x11.EventConfigure:
		msg.Code = CodeConfigure
		msg.Bounds = Rect{X: ev.X, Y: ev.Y, Width: ev.Width, Height: ev.Height}
	case x11.EventFocusIn:
		msg.Code = CodeFocusIn
	case x11.EventFocusOut:
		msg.Code = CodeFocusOut
	case x11.EventMap:
		msg.Code = CodeMap
	case x11.EventUnmap:
		msg.Code = CodeUnmap
	case x11.EventProperty:
		if ev.Atom == "_NET_WM_STATE" {
			msg.Code = CodeStateChange
			msg.States = ev.States
		}
	}
	return msg
}
