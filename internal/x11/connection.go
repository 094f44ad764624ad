package x11

import (
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
)

// Connection manages the X11 connection, the windows created through it and
// the per-window event mailboxes filled by Poll.
type Connection struct {
	XUtil *xgbutil.XUtil
	Root  xproto.Window

	mu        sync.Mutex
	owned     map[xproto.Window]struct{}
	mailboxes map[xproto.Window][]Event
}

// NewConnection establishes a connection to the X11 server.
func NewConnection() (*Connection, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, err
	}

	c := newConnection()
	c.XUtil = xu
	c.Root = xu.RootWin()
	return c, nil
}

func newConnection() *Connection {
	return &Connection{
		owned:     make(map[xproto.Window]struct{}),
		mailboxes: make(map[xproto.Window][]Event),
	}
}

func (c *Connection) track(id xproto.Window) {
	c.mu.Lock()
	c.owned[id] = struct{}{}
	c.mu.Unlock()
}

// Forget drops id and anything queued for it. Events that arrive for it
// afterwards are discarded by Poll.
func (c *Connection) Forget(id xproto.Window) {
	c.mu.Lock()
	delete(c.owned, id)
	delete(c.mailboxes, id)
	c.mu.Unlock()
}

// Owned returns the windows created through this connection that have not
// been destroyed.
func (c *Connection) Owned() []xproto.Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	wins := make([]xproto.Window, 0, len(c.owned))
	for w := range c.owned {
		wins = append(wins, w)
	}
	return wins
}

// Close cleanly disconnects from the X11 server
func (c *Connection) Close() {
	c.XUtil.Conn().Close()
}
