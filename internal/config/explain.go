package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Explain returns the effective value at the given YAML-like path and its source.
//
// Supported paths include:
//
//	platform
//	tick_interval_ms
//	call_timeout_ms
//	socket_path
//	logging.level
//	default_window
//	windows.<name>
//	windows.<name>.width
//	windows.<name>.parent.policy
func Explain(res *LoadResult, path string) (any, Source, error) {
	if res == nil || res.Config == nil {
		return nil, Source{}, fmt.Errorf("no config loaded")
	}
	if path == "" {
		return nil, Source{}, fmt.Errorf("path is empty")
	}

	value, err := lookupValue(res.Config, path)
	if err != nil {
		return nil, Source{}, err
	}

	// Exact-path file source wins.
	if src, ok := res.Sources[path]; ok {
		return value, src, nil
	}

	// Otherwise infer from category.
	if strings.HasPrefix(path, "windows.") {
		name := windowNameFromPath(path)
		base := ""
		if name != "" {
			base = res.WindowBases[name]
		}
		return value, Source{Kind: SourceBuiltin, Name: base}, nil
	}

	return value, Source{Kind: SourceDefault, Name: "defaults"}, nil
}

func windowNameFromPath(path string) string {
	parts := strings.Split(path, ".")
	if len(parts) < 2 || parts[0] != "windows" {
		return ""
	}
	return parts[1]
}

func lookupValue(cfg *Config, path string) (any, error) {
	parts := strings.Split(path, ".")
	scalar := func(v any) (any, error) {
		if len(parts) != 1 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		return v, nil
	}

	switch parts[0] {
	case "platform":
		return scalar(cfg.Platform)
	case "tick_interval_ms":
		return scalar(cfg.TickIntervalMS)
	case "call_timeout_ms":
		return scalar(cfg.CallTimeoutMS)
	case "socket_path":
		return scalar(cfg.SocketPath)
	case "default_window":
		return scalar(cfg.DefaultWindow)
	case "logging":
		if len(parts) == 1 {
			return cfg.Logging, nil
		}
		if len(parts) != 2 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		switch parts[1] {
		case "level":
			return cfg.Logging.Level, nil
		case "file":
			return cfg.Logging.File, nil
		}
		return nil, fmt.Errorf("unknown path: %s", path)
	case "windows":
		if len(parts) == 1 {
			return cfg.WindowNames(), nil
		}
		w, ok := cfg.Windows[parts[1]]
		if !ok {
			return nil, fmt.Errorf("unknown window %q", parts[1])
		}
		if len(parts) == 2 {
			return w, nil
		}
		return lookupField(w, parts[2:], path)
	}
	return nil, fmt.Errorf("unknown path: %s", path)
}

// lookupField walks a struct through its YAML field names.
func lookupField(v any, parts []string, path string) (any, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	var cur any = tree
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		next, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("unknown path: %s (unset or unknown field %q)", path, part)
		}
		cur = next
	}
	return cur, nil
}
