package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/1broseidon/hostview/internal/content"
	"github.com/1broseidon/hostview/internal/message"
	"gopkg.in/yaml.v3"
)

// WindowMode selects the backend variant a window is created with.
type WindowMode string

const (
	ModeStandalone WindowMode = "standalone" // Owns its blocking event loop.
	ModeEmbedded   WindowMode = "embedded"   // Parented to a host window, ticked externally.
	ModeIntegrated WindowMode = "integrated" // Driven by a host toolkit's idle callbacks.
)

// ParentPolicy selects how an embedded window relates to its parent.
type ParentPolicy string

const (
	PolicyNone  ParentPolicy = ""
	PolicyChild ParentPolicy = "child" // Same-thread, lifetime tied to the parent.
	PolicyOwner ParentPolicy = "owner" // Weak ownership, may be built off the parent's thread.
)

// ParentConfig names the host window an embedded window attaches to.
type ParentConfig struct {
	Policy ParentPolicy `yaml:"policy,omitempty" json:"policy,omitempty"`
	Handle uint64       `yaml:"handle,omitempty" json:"handle,omitempty"`
}

// WindowConfig is immutable once a window has been constructed from it.
type WindowConfig struct {
	ID              string         `yaml:"id,omitempty" json:"id,omitempty"`
	Mode            WindowMode     `yaml:"mode" json:"mode"`
	Title           string         `yaml:"title" json:"title"`
	X               int            `yaml:"x,omitempty" json:"x,omitempty"`
	Y               int            `yaml:"y,omitempty" json:"y,omitempty"`
	Width           int            `yaml:"width" json:"width"`
	Height          int            `yaml:"height" json:"height"`
	Center          bool           `yaml:"center" json:"center"`
	Resizable       *bool          `yaml:"resizable,omitempty" json:"resizable,omitempty"`
	Frameless       bool           `yaml:"frameless,omitempty" json:"frameless,omitempty"`
	Transparent     bool           `yaml:"transparent,omitempty" json:"transparent,omitempty"`
	AlwaysOnTop     bool           `yaml:"always_on_top,omitempty" json:"always_on_top,omitempty"`
	ToolWindow      bool           `yaml:"tool_window,omitempty" json:"tool_window,omitempty"`
	Parent          ParentConfig   `yaml:"parent,omitempty" json:"parent,omitempty"`
	Content         content.Source `yaml:"content,omitempty" json:"content,omitempty"`
	DevTools        bool           `yaml:"devtools,omitempty" json:"devtools,omitempty"`
	AllowLocalFiles bool           `yaml:"allow_local_files,omitempty" json:"allow_local_files,omitempty"`
	// CallTimeoutMS overrides the global call timeout for this window.
	CallTimeoutMS int `yaml:"call_timeout_ms,omitempty" json:"call_timeout_ms,omitempty"`
}

// IsResizable defaults to true when unset.
func (w WindowConfig) IsResizable() bool {
	if w.Resizable == nil {
		return true
	}
	return *w.Resizable
}

// CallTimeout returns the window's call timeout, or fallback when unset.
func (w WindowConfig) CallTimeout(fallback time.Duration) time.Duration {
	if w.CallTimeoutMS > 0 {
		return time.Duration(w.CallTimeoutMS) * time.Millisecond
	}
	return fallback
}

// Validate checks one window definition. Paths in the returned error are
// relative to the window.
func (w WindowConfig) Validate() error {
	switch w.Mode {
	case ModeStandalone, ModeEmbedded, ModeIntegrated:
	default:
		return &ValidationError{Path: "mode", Err: fmt.Errorf("mode must be one of: standalone, embedded, integrated")}
	}
	if w.Width <= 0 || w.Height <= 0 {
		return &ValidationError{Path: "width", Err: fmt.Errorf("width and height must be > 0")}
	}
	switch w.Parent.Policy {
	case PolicyNone:
		if w.Mode == ModeEmbedded {
			return &ValidationError{Path: "parent.policy", Err: fmt.Errorf("embedded windows need a parent policy (child or owner)")}
		}
	case PolicyChild, PolicyOwner:
		if w.Mode != ModeEmbedded {
			return &ValidationError{Path: "parent.policy", Err: fmt.Errorf("parent policy only applies to embedded windows")}
		}
		if w.Parent.Handle == 0 {
			return &ValidationError{Path: "parent.handle", Err: fmt.Errorf("parent.handle is required for %s policy", w.Parent.Policy)}
		}
	default:
		return &ValidationError{Path: "parent.policy", Err: fmt.Errorf("parent.policy must be one of: child, owner")}
	}
	if err := w.Content.Validate(); err != nil {
		return &ValidationError{Path: "content", Err: err}
	}
	if w.CallTimeoutMS < 0 {
		return &ValidationError{Path: "call_timeout_ms", Err: fmt.Errorf("call_timeout_ms must be >= 0")}
	}
	return nil
}

// LoggingConfig configures the runtime's structured log output.
type LoggingConfig struct {
	// Level controls logging verbosity: debug, info, warn, error
	Level string `yaml:"level,omitempty"`
	// File appends log lines to this path instead of stderr
	File string `yaml:"file,omitempty"`
}

const (
	DefaultTickIntervalMS = 16
	DefaultCallTimeoutMS  = 30000
	DefaultWindowName     = "default"
)

// Config is the effective runtime configuration.
type Config struct {
	Platform       string                  `yaml:"platform"`
	TickIntervalMS int                     `yaml:"tick_interval_ms"`
	CallTimeoutMS  int                     `yaml:"call_timeout_ms"`
	SocketPath     string                  `yaml:"socket_path,omitempty"`
	Logging        LoggingConfig           `yaml:"logging"`
	DefaultWindow  string                  `yaml:"default_window"`
	Windows        map[string]WindowConfig `yaml:"windows"`
}

func DefaultConfig() *Config {
	return &Config{
		Platform:       "auto",
		TickIntervalMS: DefaultTickIntervalMS,
		CallTimeoutMS:  DefaultCallTimeoutMS,
		Logging:        LoggingConfig{Level: "info"},
		DefaultWindow:  DefaultWindowName,
		Windows:        builtinWindows(),
	}
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

// Window returns a copy of the named preset; an empty name selects the
// default window.
func (c *Config) Window(name string) (WindowConfig, error) {
	if name == "" {
		name = c.DefaultWindow
	}
	w, ok := c.Windows[name]
	if !ok {
		return WindowConfig{}, message.Errorf(message.CodeNotFound, "window preset %q not found", name)
	}
	return w, nil
}

// WindowNames returns the preset names in sorted order.
func (c *Config) WindowNames() []string {
	names := make([]string, 0, len(c.Windows))
	for name := range c.Windows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) Validate() error {
	switch c.Platform {
	case "auto", "x11", "headless":
	default:
		return &ValidationError{Path: "platform", Err: fmt.Errorf("platform must be one of: auto, x11, headless")}
	}
	if c.TickIntervalMS <= 0 {
		return &ValidationError{Path: "tick_interval_ms", Err: fmt.Errorf("tick_interval_ms must be > 0")}
	}
	if c.CallTimeoutMS <= 0 {
		return &ValidationError{Path: "call_timeout_ms", Err: fmt.Errorf("call_timeout_ms must be > 0")}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Path: "logging.level", Err: fmt.Errorf("logging.level must be one of: debug, info, warn, error")}
	}
	if len(c.Windows) == 0 {
		return &ValidationError{Path: "windows", Err: fmt.Errorf("windows must not be empty")}
	}
	if c.DefaultWindow == "" {
		return &ValidationError{Path: "default_window", Err: fmt.Errorf("default_window is required")}
	}
	if _, ok := c.Windows[c.DefaultWindow]; !ok {
		return &ValidationError{Path: "default_window", Err: fmt.Errorf("default_window %q not found in windows", c.DefaultWindow)}
	}
	for _, name := range c.WindowNames() {
		if err := c.Windows[name].Validate(); err != nil {
			if verr, ok := err.(*ValidationError); ok {
				return &ValidationError{Path: "windows." + name + "." + verr.Path, Err: verr.Err}
			}
			return &ValidationError{Path: "windows." + name, Err: err}
		}
	}
	return nil
}

// Save writes the config to the default location.
func (c *Config) Save() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// SlogLevel maps logging.level onto a slog level, defaulting to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
