package lifecycle

// Window event vocabulary, delivered to both the automation layer and the
// content runtime.
const (
	EventShown      = "shown"
	EventHidden     = "hidden"
	EventFocused    = "focused"
	EventBlurred    = "blurred"
	EventResized    = "resized"
	EventMoved      = "moved"
	EventMinimized  = "minimized"
	EventMaximized  = "maximized"
	EventFullscreen = "fullscreen"
	EventRestored   = "restored"
	EventClosing    = "closing"
	EventClosed     = "closed"
)

// Size is the payload of EventResized.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Position is the payload of EventMoved.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PresentationEvent names the event announcing a move into p.
func PresentationEvent(p Presentation) string {
	switch p {
	case Minimized:
		return EventMinimized
	case Maximized:
		return EventMaximized
	case Fullscreen:
		return EventFullscreen
	}
	return EventRestored
}
