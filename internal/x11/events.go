package x11

import (
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/xprop"
)

// EventKind is the subset of X events the runtime cares about.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventClientMessage
	EventDestroy
	EventConfigure
	EventFocusIn
	EventFocusOut
	EventMap
	EventUnmap
	EventProperty
)

// Event is an X event reduced to plain values. Atom is the protocol name
// for WM_PROTOCOLS client messages, the message type for other client
// messages and the property name for property changes.
type Event struct {
	Kind   EventKind
	Window xproto.Window
	Atom   string
	States []string
	X      int
	Y      int
	Width  int
	Height int
	Raw    uint32
}

// Poll moves every event already received from the server into the
// mailboxes without blocking.
func (c *Connection) Poll() {
	conn := c.XUtil.Conn()
	for {
		ev, xerr := conn.PollForEvent()
		if ev == nil && xerr == nil {
			return
		}
		if xerr != nil {
			// Errors for requests on windows that are already gone show up
			// here; the validity check covers them.
			continue
		}
		c.route(c.translate(ev))
	}
}

// route files ev in its window's mailbox. Events for windows this
// connection does not own, including the trailing unmap and destroy
// notifications of a forgotten window, are dropped.
func (c *Connection) route(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.owned[ev.Window]; !ok {
		return false
	}
	c.mailboxes[ev.Window] = append(c.mailboxes[ev.Window], ev)
	return true
}

// TakeEvents polls and returns the events queued for win.
func (c *Connection) TakeEvents(win xproto.Window) []Event {
	c.Poll()
	return c.take(win)
}

func (c *Connection) take(win xproto.Window) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.mailboxes[win]
	delete(c.mailboxes, win)
	return events
}

func (c *Connection) translate(ev xgb.Event) Event {
	switch e := ev.(type) {
	case xproto.ClientMessageEvent:
		out := Event{Kind: EventClientMessage, Window: e.Window, Raw: uint32(e.Type)}
		name, _ := xprop.AtomName(c.XUtil, e.Type)
		out.Atom = name
		if name == "WM_PROTOCOLS" && len(e.Data.Data32) > 0 {
			if proto, err := xprop.AtomName(c.XUtil, xproto.Atom(e.Data.Data32[0])); err == nil {
				out.Atom = proto
			}
		}
		return out
	case xproto.DestroyNotifyEvent:
		return Event{Kind: EventDestroy, Window: e.Window}
	case xproto.ConfigureNotifyEvent:
		return Event{
			Kind:   EventConfigure,
			Window: e.Window,
			X:      int(e.X),
			Y:      int(e.Y),
			Width:  int(e.Width),
			Height: int(e.Height),
		}
	case xproto.FocusInEvent:
		return Event{Kind: EventFocusIn, Window: e.Event}
	case xproto.FocusOutEvent:
		return Event{Kind: EventFocusOut, Window: e.Event}
	case xproto.MapNotifyEvent:
		return Event{Kind: EventMap, Window: e.Window}
	case xproto.UnmapNotifyEvent:
		return Event{Kind: EventUnmap, Window: e.Window}
	case xproto.PropertyNotifyEvent:
		out := Event{Kind: EventProperty, Window: e.Window, Raw: uint32(e.Atom)}
		out.Atom, _ = xprop.AtomName(c.XUtil, e.Atom)
		if out.Atom == "_NET_WM_STATE" {
			out.States, _ = ewmh.WmStateGet(c.XUtil, e.Window)
		}
		return out
	}
	return Event{Kind: EventUnknown}
}
