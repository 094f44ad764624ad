package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// IncludeList supports either:
//
//	include: "/path/to/file.yaml"
//
// or:
//
//	include:
//	  - "/path/to/file.yaml"
//	  - "/path/to/dir"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		// Not present.
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

type RawParent struct {
	Policy *ParentPolicy `yaml:"policy"`
	Handle *uint64       `yaml:"handle"`
}

type RawContent struct {
	HTML *string `yaml:"html"`
	URL  *string `yaml:"url"`
}

// RawWindow is a window preset as written in YAML. Unset fields fall back to
// the preset named by inherits, then to the built-in default window.
type RawWindow struct {
	Inherits        *string     `yaml:"inherits"`
	ID              *string     `yaml:"id"`
	Mode            *WindowMode `yaml:"mode"`
	Title           *string     `yaml:"title"`
	X               *int        `yaml:"x"`
	Y               *int        `yaml:"y"`
	Width           *int        `yaml:"width"`
	Height          *int        `yaml:"height"`
	Center          *bool       `yaml:"center"`
	Resizable       *bool       `yaml:"resizable"`
	Frameless       *bool       `yaml:"frameless"`
	Transparent     *bool       `yaml:"transparent"`
	AlwaysOnTop     *bool       `yaml:"always_on_top"`
	ToolWindow      *bool       `yaml:"tool_window"`
	Parent          *RawParent  `yaml:"parent"`
	Content         *RawContent `yaml:"content"`
	DevTools        *bool       `yaml:"devtools"`
	AllowLocalFiles *bool       `yaml:"allow_local_files"`
	CallTimeoutMS   *int        `yaml:"call_timeout_ms"`
}

type RawLoggingConfig struct {
	Level *string `yaml:"level"`
	File  *string `yaml:"file"`
}

type RawConfig struct {
	Include        IncludeList          `yaml:"include"`
	Platform       *string              `yaml:"platform"`
	TickIntervalMS *int                 `yaml:"tick_interval_ms"`
	CallTimeoutMS  *int                 `yaml:"call_timeout_ms"`
	SocketPath     *string              `yaml:"socket_path"`
	Logging        *RawLoggingConfig    `yaml:"logging"`
	DefaultWindow  *string              `yaml:"default_window"`
	Windows        map[string]RawWindow `yaml:"windows"`
}

func (c RawConfig) merge(overlay RawConfig) RawConfig {
	out := c

	if overlay.Platform != nil {
		out.Platform = overlay.Platform
	}
	if overlay.TickIntervalMS != nil {
		out.TickIntervalMS = overlay.TickIntervalMS
	}
	if overlay.CallTimeoutMS != nil {
		out.CallTimeoutMS = overlay.CallTimeoutMS
	}
	if overlay.SocketPath != nil {
		out.SocketPath = overlay.SocketPath
	}
	if overlay.DefaultWindow != nil {
		out.DefaultWindow = overlay.DefaultWindow
	}

	if overlay.Logging != nil {
		if out.Logging == nil {
			out.Logging = &RawLoggingConfig{}
		}
		if overlay.Logging.Level != nil {
			out.Logging.Level = overlay.Logging.Level
		}
		if overlay.Logging.File != nil {
			out.Logging.File = overlay.Logging.File
		}
	}

	if overlay.Windows != nil {
		merged := make(map[string]RawWindow, len(out.Windows)+len(overlay.Windows))
		for name, w := range out.Windows {
			merged[name] = w
		}
		for name, w := range overlay.Windows {
			base, ok := merged[name]
			if !ok {
				merged[name] = w
				continue
			}
			merged[name] = mergeRawWindow(base, w)
		}
		out.Windows = merged
	}

	return out
}

func mergeRawParent(base RawParent, overlay RawParent) RawParent {
	out := base
	if overlay.Policy != nil {
		out.Policy = overlay.Policy
	}
	if overlay.Handle != nil {
		out.Handle = overlay.Handle
	}
	return out
}

// mergeRawContent treats html and url as one choice: the overlay's source
// replaces the base's entirely.
func mergeRawContent(base RawContent, overlay RawContent) RawContent {
	if overlay.HTML != nil || overlay.URL != nil {
		return overlay
	}
	return base
}

func mergeRawWindow(base RawWindow, overlay RawWindow) RawWindow {
	out := base
	if overlay.Inherits != nil {
		out.Inherits = overlay.Inherits
	}
	if overlay.ID != nil {
		out.ID = overlay.ID
	}
	if overlay.Mode != nil {
		out.Mode = overlay.Mode
	}
	if overlay.Title != nil {
		out.Title = overlay.Title
	}
	if overlay.X != nil {
		out.X = overlay.X
	}
	if overlay.Y != nil {
		out.Y = overlay.Y
	}
	if overlay.Width != nil {
		out.Width = overlay.Width
	}
	if overlay.Height != nil {
		out.Height = overlay.Height
	}
	if overlay.Center != nil {
		out.Center = overlay.Center
	}
	if overlay.Resizable != nil {
		out.Resizable = overlay.Resizable
	}
	if overlay.Frameless != nil {
		out.Frameless = overlay.Frameless
	}
	if overlay.Transparent != nil {
		out.Transparent = overlay.Transparent
	}
	if overlay.AlwaysOnTop != nil {
		out.AlwaysOnTop = overlay.AlwaysOnTop
	}
	if overlay.ToolWindow != nil {
		out.ToolWindow = overlay.ToolWindow
	}
	if overlay.Parent != nil {
		if out.Parent == nil {
			out.Parent = &RawParent{}
		}
		merged := mergeRawParent(*out.Parent, *overlay.Parent)
		out.Parent = &merged
	}
	if overlay.Content != nil {
		if out.Content == nil {
			out.Content = &RawContent{}
		}
		merged := mergeRawContent(*out.Content, *overlay.Content)
		out.Content = &merged
	}
	if overlay.DevTools != nil {
		out.DevTools = overlay.DevTools
	}
	if overlay.AllowLocalFiles != nil {
		out.AllowLocalFiles = overlay.AllowLocalFiles
	}
	if overlay.CallTimeoutMS != nil {
		out.CallTimeoutMS = overlay.CallTimeoutMS
	}
	return out
}
