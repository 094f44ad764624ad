package config

func boolPtr(v bool) *bool { return &v }

// builtinWindows returns the window presets available without any YAML.
// Users can override them or define additional presets in their config file.
func builtinWindows() map[string]WindowConfig {
	return map[string]WindowConfig{
		DefaultWindowName: {
			Mode:   ModeStandalone,
			Title:  "hostview",
			Width:  800,
			Height: 600,
			Center: true,
		},
		"dialog": {
			Mode:      ModeStandalone,
			Title:     "hostview",
			Width:     480,
			Height:    320,
			Center:    true,
			Resizable: boolPtr(false),
		},
		"tool": {
			Mode:        ModeStandalone,
			Title:       "hostview tool",
			Width:       360,
			Height:      640,
			Frameless:   true,
			AlwaysOnTop: true,
			ToolWindow:  true,
		},
	}
}

// BuiltinWindowNames lists the presets that exist without configuration.
func BuiltinWindowNames() []string {
	return []string{DefaultWindowName, "dialog", "tool"}
}
