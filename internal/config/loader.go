package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type SourceKind string

const (
	SourceDefault SourceKind = "default"
	SourceBuiltin SourceKind = "builtin"
	SourceFile    SourceKind = "file"
)

type Source struct {
	Kind   SourceKind
	Name   string // for builtin/default
	File   string
	Line   int
	Column int
}

type LoadResult struct {
	Config      *Config
	Sources     map[string]Source // YAML-path -> last writer source (file only)
	WindowBases map[string]string // window preset name -> builtin base name
	Files       []string          // all loaded files, in load order
}

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "HOSTVIEW_CONFIG"

func DefaultConfigPath() (string, error) {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path, nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "hostview", "config.yaml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "hostview", "config.yaml"), nil
}

// Load reads the merged configuration from the standard location and returns an
// effective config ready for use by the daemon.
func Load() (*Config, error) {
	res, err := LoadWithSources()
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

// LoadWithSources loads config and returns file-level sources for introspection.
func LoadWithSources() (*LoadResult, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads path and its includes on top of the defaults. A missing
// file yields the defaults.
func LoadFromPath(path string) (*LoadResult, error) {
	l := newFileLoader()
	if _, err := os.Stat(path); err == nil {
		if err := l.load(path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg, bases, err := BuildEffectiveConfig(l.raw)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, l.locate(err)
	}
	return &LoadResult{
		Config:      cfg,
		Sources:     l.sources,
		WindowBases: bases,
		Files:       l.files,
	}, nil
}

// fileLoader accumulates a config file and everything it includes. Includes
// apply before the file naming them, so the including file wins.
type fileLoader struct {
	seen    map[string]bool
	chain   []string
	raw     RawConfig
	sources map[string]Source
	files   []string
}

func newFileLoader() *fileLoader {
	return &fileLoader{
		seen:    make(map[string]bool),
		sources: make(map[string]Source),
	}
}

func (l *fileLoader) load(path string) error {
	canon := canonicalPath(path)
	if slices.Contains(l.chain, canon) {
		return fmt.Errorf("include cycle detected: %s -> %s", strings.Join(l.chain, " -> "), canon)
	}
	if l.seen[canon] {
		return nil
	}
	l.seen[canon] = true

	data, err := os.ReadFile(canon)
	if err != nil {
		return fmt.Errorf("%s: failed to read: %w", canon, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%s: failed to parse yaml: %w", canon, err)
	}
	var raw RawConfig
	if err := decodeStrictYAML(data, &raw); err != nil {
		return fmt.Errorf("%s: %w", canon, err)
	}
	root := documentRoot(&doc)

	l.chain = append(l.chain, canon)
	for _, ref := range includeNodes(root) {
		at := fileSource(canon, ref)
		paths, err := expandInclude(canon, ref.Value)
		if err != nil {
			return fmt.Errorf("%s: include %q: %w", at.position(), ref.Value, err)
		}
		for _, inc := range paths {
			if err := l.load(inc); err != nil {
				return err
			}
		}
	}
	l.chain = l.chain[:len(l.chain)-1]

	l.raw = l.raw.merge(raw)
	indexSources(root, canon, "", l.sources)
	l.files = append(l.files, canon)
	return nil
}

// locate points a validation error at the closest key a file actually set.
func (l *fileLoader) locate(err error) error {
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Path == "" {
		return err
	}
	for key := verr.Path; key != ""; {
		if src, ok := l.sources[key]; ok {
			verr.Source = src
			break
		}
		dot := strings.LastIndex(key, ".")
		if dot < 0 {
			break
		}
		key = key[:dot]
	}
	return verr
}

func (s Source) position() string {
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Column)
}

func fileSource(file string, node *yaml.Node) Source {
	return Source{Kind: SourceFile, File: file, Line: node.Line, Column: node.Column}
}

func decodeStrictYAML(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// canonicalPath resolves symlinks where it can so one file is never loaded
// twice under different names.
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}

// expandInclude turns one include entry into the files it names. A
// directory contributes its *.yaml and *.yml files in name order.
func expandInclude(baseFile, include string) ([]string, error) {
	include = strings.TrimSpace(os.ExpandEnv(include))
	if include == "" {
		return nil, fmt.Errorf("path is empty")
	}
	if include == "~" || strings.HasPrefix(include, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		include = filepath.Join(home, strings.TrimPrefix(include, "~"))
	}
	if !filepath.IsAbs(include) {
		include = filepath.Join(filepath.Dir(baseFile), include)
	}

	info, err := os.Stat(include)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{include}, nil
	}
	entries, err := os.ReadDir(include)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, ent := range entries {
		switch strings.ToLower(filepath.Ext(ent.Name())) {
		case ".yaml", ".yml":
			if !ent.IsDir() {
				files = append(files, filepath.Join(include, ent.Name()))
			}
		}
	}
	slices.Sort(files)
	return files, nil
}

func documentRoot(doc *yaml.Node) *yaml.Node {
	if doc != nil && doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0]
	}
	return doc
}

// indexSources records where every key under node was written, keyed by
// dotted path. Sequences are recorded as a whole.
func indexSources(node *yaml.Node, file, prefix string, out map[string]Source) {
	if node == nil {
		return
	}
	if node.Kind == yaml.SequenceNode && prefix != "" {
		out[prefix] = fileSource(file, node)
		return
	}
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		if prefix != "" {
			key = prefix + "." + key
		}
		out[key] = fileSource(file, val)
		indexSources(val, file, key, out)
	}
}

// includeNodes returns the scalar entries of the top-level include key.
func includeNodes(root *yaml.Node) []*yaml.Node {
	if root == nil || root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "include" {
			continue
		}
		val := root.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			return []*yaml.Node{val}
		case yaml.SequenceNode:
			var refs []*yaml.Node
			for _, item := range val.Content {
				if item.Kind == yaml.ScalarNode {
					refs = append(refs, item)
				}
			}
			return refs
		}
	}
	return nil
}
