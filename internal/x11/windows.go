package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/motif"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/BurntSushi/xgbutil/xwindow"
)

// WindowOptions describes a top-level or reparented window.
type WindowOptions struct {
	Title        string
	X, Y         int
	Width        int
	Height       int
	Resizable    bool
	Frameless    bool
	AlwaysOnTop  bool
	SkipTaskbar  bool
	Parent       xproto.Window // reparent target, 0 for the root window
	TransientFor xproto.Window
}

const eventMask = xproto.EventMaskStructureNotify |
	xproto.EventMaskFocusChange |
	xproto.EventMaskPropertyChange

// CreateWindow allocates an unmapped window that asks the window manager
// for WM_DELETE_WINDOW instead of being killed on close.
func (c *Connection) CreateWindow(opts WindowOptions) (xproto.Window, error) {
	win, err := xwindow.Generate(c.XUtil)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate window id: %w", err)
	}

	parent := c.Root
	if opts.Parent != 0 {
		parent = opts.Parent
	}
	if err := win.CreateChecked(parent, opts.X, opts.Y, opts.Width, opts.Height,
		xproto.CwBackPixel|xproto.CwEventMask, 0xffffff, uint32(eventMask)); err != nil {
		return 0, fmt.Errorf("failed to create window: %w", err)
	}
	id := win.Id

	if err := icccm.WmProtocolsSet(c.XUtil, id, []string{"WM_DELETE_WINDOW"}); err != nil {
		win.Destroy()
		return 0, fmt.Errorf("failed to set WM_PROTOCOLS: %w", err)
	}
	if err := c.SetTitle(id, opts.Title); err != nil {
		win.Destroy()
		return 0, err
	}
	if opts.TransientFor != 0 {
		if err := icccm.WmTransientForSet(c.XUtil, id, opts.TransientFor); err != nil {
			win.Destroy()
			return 0, fmt.Errorf("failed to set WM_TRANSIENT_FOR: %w", err)
		}
	}
	if !opts.Resizable {
		hints := &icccm.NormalHints{
			Flags:     icccm.SizeHintPMinSize | icccm.SizeHintPMaxSize,
			MinWidth:  uint(opts.Width),
			MinHeight: uint(opts.Height),
			MaxWidth:  uint(opts.Width),
			MaxHeight: uint(opts.Height),
		}
		_ = icccm.WmNormalHintsSet(c.XUtil, id, hints)
	}
	if opts.Frameless {
		_ = motif.WmHintsSet(c.XUtil, id, &motif.Hints{
			Flags:      motif.HintDecorations,
			Decoration: motif.DecorationNone,
		})
	}

	var states []string
	if opts.AlwaysOnTop {
		states = append(states, "_NET_WM_STATE_ABOVE")
	}
	if opts.SkipTaskbar {
		states = append(states, "_NET_WM_STATE_SKIP_TASKBAR", "_NET_WM_STATE_SKIP_PAGER")
	}
	if len(states) > 0 {
		_ = ewmh.WmStateSet(c.XUtil, id, states)
	}

	c.track(id)
	return id, nil
}

// DestroyWindow destroys a window created by this connection and forgets
// anything still queued for it.
func (c *Connection) DestroyWindow(id xproto.Window) error {
	c.Forget(id)
	return xproto.DestroyWindowChecked(c.XUtil.Conn(), id).Check()
}

func (c *Connection) MapWindow(id xproto.Window) error {
	return xproto.MapWindowChecked(c.XUtil.Conn(), id).Check()
}

func (c *Connection) UnmapWindow(id xproto.Window) error {
	return xproto.UnmapWindowChecked(c.XUtil.Conn(), id).Check()
}

// SetTitle sets both the EWMH and the legacy ICCCM name.
func (c *Connection) SetTitle(id xproto.Window, title string) error {
	if err := ewmh.WmNameSet(c.XUtil, id, title); err != nil {
		return fmt.Errorf("failed to set _NET_WM_NAME: %w", err)
	}
	return icccm.WmNameSet(c.XUtil, id, title)
}

// WindowExists asks the server whether id still names a window.
func (c *Connection) WindowExists(id xproto.Window) bool {
	_, err := xproto.GetWindowAttributes(c.XUtil.Conn(), id).Reply()
	return err == nil
}

// SendClientMessage delivers a 32-bit client message of the named type to
// the window itself.
func (c *Connection) SendClientMessage(id xproto.Window, msgType string, data ...uint32) error {
	atom, err := xprop.Atm(c.XUtil, msgType)
	if err != nil {
		return fmt.Errorf("failed to intern %s: %w", msgType, err)
	}
	payload := make([]uint32, 5)
	copy(payload, data)
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: id,
		Type:   atom,
		Data:   xproto.ClientMessageDataUnionData32New(payload),
	}
	return xproto.SendEventChecked(
		c.XUtil.Conn(),
		false,
		id,
		xproto.EventMaskNoEvent,
		string(ev.Bytes()),
	).Check()
}

// FocusWindow activates and raises a window using _NET_ACTIVE_WINDOW.
func (c *Connection) FocusWindow(id xproto.Window) error {
	atom, err := xprop.Atm(c.XUtil, "_NET_ACTIVE_WINDOW")
	if err != nil {
		return fmt.Errorf("failed to intern _NET_ACTIVE_WINDOW: %w", err)
	}

	const sourceIndication = 2 // pager/direct action
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: id,
		Type:   atom,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{sourceIndication, 0, 0, 0, 0}),
	}

	return xproto.SendEventChecked(
		c.XUtil.Conn(),
		false,
		c.Root,
		xproto.EventMaskSubstructureRedirect|xproto.EventMaskSubstructureNotify,
		string(ev.Bytes()),
	).Check()
}
