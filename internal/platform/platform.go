package platform

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

// Handle is a platform-neutral native window handle. Zero is never valid.
type Handle uint64

// Rect describes a rectangular region in screen coordinates.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Display describes a physical display.
type Display struct {
	ID     int
	Name   string
	Bounds Rect
}

// ParentPolicy selects how an embedded window relates to its parent.
type ParentPolicy int

const (
	// ParentNone creates a top-level window.
	ParentNone ParentPolicy = iota
	// ParentOwner keeps a weak owner relation (transient-for). Safe to
	// create from a goroutine other than the parent's.
	ParentOwner
	// ParentChild reparents into the parent. Lifetime is tied to it.
	ParentChild
)

func (p ParentPolicy) String() string {
	switch p {
	case ParentOwner:
		return "owner"
	case ParentChild:
		return "child"
	}
	return "none"
}

// WindowSpec is what a provider needs to allocate a native window.
type WindowSpec struct {
	Title       string
	Bounds      Rect
	Center      bool
	Resizable   bool
	Frameless   bool
	Transparent bool
	AlwaysOnTop bool
	ToolWindow  bool
	Parent      Handle
	Policy      ParentPolicy
}

// Code is the provider-neutral kind of a native message.
type Code int

const (
	CodeUnknown Code = iota
	CodeClientMessage
	CodeDestroyNotify
	CodeQuit
	CodeConfigure
	CodeFocusIn
	CodeFocusOut
	CodeMap
	CodeUnmap
	CodeStateChange
)

var codeNames = map[Code]string{
	CodeUnknown:       "unknown",
	CodeClientMessage: "client-message",
	CodeDestroyNotify: "destroy-notify",
	CodeQuit:          "quit",
	CodeConfigure:     "configure",
	CodeFocusIn:       "focus-in",
	CodeFocusOut:      "focus-out",
	CodeMap:           "map",
	CodeUnmap:         "unmap",
	CodeStateChange:   "state-change",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Protocol and state names shared by providers.
const (
	ProtocolDeleteWindow = "WM_DELETE_WINDOW"
	ProtocolQuit         = "_HOSTVIEW_QUIT"

	StateHidden        = "_NET_WM_STATE_HIDDEN"
	StateMaximizedVert = "_NET_WM_STATE_MAXIMIZED_VERT"
	StateMaximizedHorz = "_NET_WM_STATE_MAXIMIZED_HORZ"
	StateFullscreen    = "_NET_WM_STATE_FULLSCREEN"
	StateAbove         = "_NET_WM_STATE_ABOVE"
	StateSkipTaskbar   = "_NET_WM_STATE_SKIP_TASKBAR"
	StateSkipPager     = "_NET_WM_STATE_SKIP_PAGER"
)

// Message is one native window message after provider translation.
// Name carries the protocol atom for client messages; States carries the
// full state list for state changes; Bounds carries configure geometry.
type Message struct {
	Window Handle
	Code   Code
	Name   string
	States []string
	Bounds Rect
	Raw    uint32
}

// Platform is the windowing system seen by the runtime. Every method except
// Name must be called from the owning thread of the window it touches.
type Platform interface {
	Name() string
	CreateWindow(spec WindowSpec) (Handle, error)
	DestroyWindow(h Handle) error
	ShowWindow(h Handle) error
	HideWindow(h Handle) error
	SetTitle(h Handle, title string) error
	// IsWindow reports whether h still refers to a live native window.
	IsWindow(h Handle) bool
	// PeekWindowMessages removes and returns what is queued for h without
	// blocking.
	PeekWindowMessages(h Handle) []Message
	// PeekThreadMessages removes and returns what is queued for the thread
	// itself. Messages waiting for live windows stay in their queues.
	PeekThreadMessages() []Message
	// PostQuit queues a quit broadcast for every live window and for the
	// thread.
	PostQuit() error
	// Release forgets h after its native window went away without
	// DestroyWindow. Unknown handles are ignored.
	Release(h Handle)
	ActiveDisplay() (Display, error)
	Close() error
}

var (
	// ErrUnavailable is returned when a provider cannot be opened here.
	ErrUnavailable = fmt.Errorf("native windowing is not available on %s/%s", runtime.GOOS, runtime.GOARCH)
	// ErrInvalidHandle is returned for handles that do not name a live window.
	ErrInvalidHandle = errors.New("invalid window handle")
)

// NewX11Func is set by the linux build via init().
var NewX11Func func() (Platform, error)

// Open returns the named provider: "x11", "headless" or "auto" (x11 when a
// display is reachable, headless otherwise).
func Open(name string) (Platform, error) {
	switch name {
	case "headless", "sim":
		return NewSim(), nil
	case "x11":
		if NewX11Func == nil {
			return nil, ErrUnavailable
		}
		return NewX11Func()
	case "", "auto":
		if NewX11Func != nil && os.Getenv("DISPLAY") != "" {
			p, err := NewX11Func()
			if err == nil {
				return p, nil
			}
		}
		return NewSim(), nil
	}
	return nil, fmt.Errorf("unknown platform %q", name)
}

// CenterIn returns r moved to the middle of within, keeping its size.
func CenterIn(r, within Rect) Rect {
	r.X = within.X + (within.Width-r.Width)/2
	r.Y = within.Y + (within.Height-r.Height)/2
	return r
}
