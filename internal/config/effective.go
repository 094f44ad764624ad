package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/1broseidon/hostview/internal/content"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BuildEffectiveConfig applies raw on top of the defaults. The returned map
// names the builtin preset each window was derived from.
func BuildEffectiveConfig(raw RawConfig) (*Config, map[string]string, error) {
	cfg := DefaultConfig()

	if raw.Platform != nil {
		cfg.Platform = strings.TrimSpace(*raw.Platform)
	}
	if raw.TickIntervalMS != nil {
		cfg.TickIntervalMS = *raw.TickIntervalMS
	}
	if raw.CallTimeoutMS != nil {
		cfg.CallTimeoutMS = *raw.CallTimeoutMS
	}
	if raw.SocketPath != nil {
		cfg.SocketPath = *raw.SocketPath
	}
	if raw.DefaultWindow != nil {
		cfg.DefaultWindow = *raw.DefaultWindow
	}
	if raw.Logging != nil {
		if raw.Logging.Level != nil {
			cfg.Logging.Level = *raw.Logging.Level
		}
		if raw.Logging.File != nil {
			cfg.Logging.File = *raw.Logging.File
		}
	}

	bases, err := applyWindows(cfg, raw)
	if err != nil {
		return nil, nil, err
	}
	return cfg, bases, nil
}

func applyWindows(cfg *Config, raw RawConfig) (map[string]string, error) {
	builtin := builtinWindows()

	// Start with built-ins.
	cfg.Windows = make(map[string]WindowConfig, len(builtin)+len(raw.Windows))
	bases := make(map[string]string, len(builtin)+len(raw.Windows))
	for name, w := range builtin {
		cfg.Windows[name] = w
		bases[name] = name
	}

	for _, name := range sortedKeys(raw.Windows) {
		patch := raw.Windows[name]
		baseName, base, err := selectWindowBase(name, patch, builtin)
		if err != nil {
			return nil, err
		}
		merged := mergeWindowPatch(base, patch)
		if err := merged.Validate(); err != nil {
			if verr, ok := err.(*ValidationError); ok {
				return nil, &ValidationError{Path: "windows." + name + "." + verr.Path, Err: verr.Err}
			}
			return nil, &ValidationError{Path: "windows." + name, Err: err}
		}
		cfg.Windows[name] = merged
		bases[name] = baseName
	}
	return bases, nil
}

func selectWindowBase(name string, patch RawWindow, builtin map[string]WindowConfig) (string, WindowConfig, error) {
	ref := ""
	if patch.Inherits != nil {
		ref = strings.TrimSpace(*patch.Inherits)
	}

	baseName := DefaultWindowName
	if _, ok := builtin[name]; ok {
		baseName = name
	}

	if ref != "" {
		const prefix = "builtin:"
		if !strings.HasPrefix(ref, prefix) {
			return "", WindowConfig{}, &ValidationError{
				Path: "windows." + name + ".inherits",
				Err:  fmt.Errorf("inherits must be %q-prefixed (builtin-only), got %q", prefix, ref),
			}
		}
		baseName = strings.TrimSpace(strings.TrimPrefix(ref, prefix))
	}

	base, ok := builtin[baseName]
	if !ok {
		return "", WindowConfig{}, &ValidationError{
			Path: "windows." + name + ".inherits",
			Err:  fmt.Errorf("unknown builtin window %q", baseName),
		}
	}
	return baseName, base, nil
}

func mergeWindowPatch(base WindowConfig, patch RawWindow) WindowConfig {
	out := base

	if patch.ID != nil {
		out.ID = *patch.ID
	}
	if patch.Mode != nil {
		out.Mode = *patch.Mode
	}
	if patch.Title != nil {
		out.Title = *patch.Title
	}
	if patch.X != nil {
		out.X = *patch.X
	}
	if patch.Y != nil {
		out.Y = *patch.Y
	}
	if patch.Width != nil {
		out.Width = *patch.Width
	}
	if patch.Height != nil {
		out.Height = *patch.Height
	}
	if patch.Center != nil {
		out.Center = *patch.Center
	}
	if patch.Resizable != nil {
		out.Resizable = boolPtr(*patch.Resizable)
	}
	if patch.Frameless != nil {
		out.Frameless = *patch.Frameless
	}
	if patch.Transparent != nil {
		out.Transparent = *patch.Transparent
	}
	if patch.AlwaysOnTop != nil {
		out.AlwaysOnTop = *patch.AlwaysOnTop
	}
	if patch.ToolWindow != nil {
		out.ToolWindow = *patch.ToolWindow
	}
	if patch.Parent != nil {
		if patch.Parent.Policy != nil {
			out.Parent.Policy = *patch.Parent.Policy
		}
		if patch.Parent.Handle != nil {
			out.Parent.Handle = *patch.Parent.Handle
		}
	}
	if patch.Content != nil {
		out.Content = content.Source{
			HTML: derefString(patch.Content.HTML, ""),
			URL:  derefString(patch.Content.URL, ""),
		}
	}
	if patch.DevTools != nil {
		out.DevTools = *patch.DevTools
	}
	if patch.AllowLocalFiles != nil {
		out.AllowLocalFiles = *patch.AllowLocalFiles
	}
	if patch.CallTimeoutMS != nil {
		out.CallTimeoutMS = *patch.CallTimeoutMS
	}
	return out
}

func derefString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
