package bridge

import (
	"sort"
	"strings"
	"sync"

	"github.com/1broseidon/hostview/internal/message"
)

// Capabilities is the shared domain:command routing table. Plugins register
// into it once; every window's Router consults it after its own bound
// methods.
type Capabilities struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewCapabilities() *Capabilities {
	return &Capabilities{handlers: make(map[string]Handler)}
}

// SplitTarget splits "domain:command". Both halves must be non-empty.
func SplitTarget(target string) (domain, command string, ok bool) {
	domain, command, ok = strings.Cut(target, ":")
	if !ok || domain == "" || command == "" {
		return "", "", false
	}
	return domain, command, true
}

// Register adds a handler for domain:command.
func (c *Capabilities) Register(domain, command string, h Handler) error {
	if domain == "" || command == "" || strings.Contains(domain, ":") {
		return message.Errorf(message.CodeInvalidRequest, "invalid capability %q:%q", domain, command)
	}
	if h == nil {
		return message.Errorf(message.CodeInvalidRequest, "capability %s:%s has no handler", domain, command)
	}
	key := domain + ":" + command
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.handlers[key]; exists {
		return message.Errorf(message.CodeDuplicateID, "capability %s already registered", key)
	}
	c.handlers[key] = h
	return nil
}

func (c *Capabilities) Unregister(domain, command string) {
	c.mu.Lock()
	delete(c.handlers, domain+":"+command)
	c.mu.Unlock()
}

// Lookup resolves a namespaced target.
func (c *Capabilities) Lookup(target string) (Handler, bool) {
	if c == nil {
		return nil, false
	}
	if _, _, ok := SplitTarget(target); !ok {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[target]
	return h, ok
}

// Targets lists registered targets in sorted order.
func (c *Capabilities) Targets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.handlers))
	for key := range c.handlers {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
