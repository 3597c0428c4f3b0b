package script

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"merilcat/pkg/plugin"
)

const manifestName = "plugin.yaml"

// Manifest describes one script plugin.
type Manifest struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Version     string        `yaml:"version"`
	Author      string        `yaml:"author"`
	Trigger     TriggerConfig `yaml:"trigger"`
	// Script is relative to the manifest's directory. Defaults to main.lua.
	Script string `yaml:"script"`

	dir string
}

// TriggerConfig is the manifest form of plugin.Trigger.
type TriggerConfig struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// Build converts the config, treating an empty type as "always".
func (t TriggerConfig) Build() (plugin.Trigger, error) {
	switch t.Type {
	case "", "always":
		return plugin.Always(), nil
	case "starts_with":
		return plugin.StartsWith(t.Value), nil
	case "pattern":
		return plugin.Pattern(t.Value)
	default:
		return plugin.Trigger{}, fmt.Errorf("unknown trigger type %q", t.Type)
	}
}

// ScriptPath is the absolute location of the Lua source.
func (m *Manifest) ScriptPath() string {
	name := m.Script
	if name == "" {
		name = "main.lua"
	}
	return filepath.Join(m.dir, name)
}

// LoadManifest reads dir/plugin.yaml.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", manifestName, err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	m.dir = dir
	return &m, nil
}

// Discover returns the manifests of every direct subdirectory of root that
// contains a plugin.yaml, sorted by directory name.
func Discover(root string) ([]*Manifest, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*", manifestName))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	manifests := make([]*Manifest, 0, len(matches))
	for _, path := range matches {
		m, err := LoadManifest(filepath.Dir(path))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
