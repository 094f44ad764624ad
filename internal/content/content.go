// Package content hosts the web content shown in a window: it parses the
// markup, runs its scripts in an embedded JavaScript engine and exposes the
// hostview bridge object to them.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/1broseidon/hostview/internal/message"
)

// Source is either inline markup or a URL.
type Source struct {
	HTML string `json:"html,omitempty" yaml:"html,omitempty"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

func HTML(markup string) Source { return Source{HTML: markup} }

func URL(u string) Source { return Source{URL: u} }

func (s Source) IsZero() bool { return s.HTML == "" && s.URL == "" }

func (s Source) Validate() error {
	if s.HTML != "" && s.URL != "" {
		return message.Errorf(message.CodeInvalidRequest, "content source has both html and url")
	}
	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil {
			return message.Wrap(message.CodeInvalidRequest, err, "invalid content url")
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "file":
		default:
			return message.Errorf(message.CodeInvalidRequest, "unsupported content url scheme %q", u.Scheme)
		}
	}
	return nil
}

func (s Source) String() string {
	if s.URL != "" {
		return s.URL
	}
	return fmt.Sprintf("inline(%d bytes)", len(s.HTML))
}

// Host is the runtime side of the bridge as seen from content. Both methods
// are called on the owning thread. reply may be called before Invoke
// returns or on a later tick, and exactly once.
type Host interface {
	Invoke(target string, payload json.RawMessage, reply func(json.RawMessage, error))
	SendEvent(name string, payload json.RawMessage)
}

// Renderer is the content-runtime handle owned by a window. None of its
// methods are safe for concurrent use.
type Renderer interface {
	Load(ctx context.Context, src Source) error
	Exec(script string) error
	// Emit delivers an event to content listeners in registration order and
	// reports whether any of them returned false.
	Emit(name string, payload json.RawMessage) (bool, error)
	HasMethod(name string) bool
	CallMethod(name string, payload json.RawMessage) (json.RawMessage, error)
	// ProcessEvents runs due timers and returns how many ran.
	ProcessEvents() int
	Title() string
	Close() error
}
