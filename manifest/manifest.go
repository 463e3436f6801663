// Package manifest handles embroider.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents an embroider.toml project configuration.
type Manifest struct {
	Compiler    CompilerConfig         `toml:"compiler"`
	Environment map[string]interface{} `toml:"environment"`
	Plugins     []PluginConfig         `toml:"plugins"`
	Build       BuildConfig            `toml:"build"`

	// Dir is the directory containing the embroider.toml file (set at load time).
	Dir string `toml:"-"`
}

// CompilerConfig locates the compiler bundle.
type CompilerConfig struct {
	Bundle string `toml:"bundle"`
}

// PluginConfig declares one AST transform plugin. Either source holds
// the JavaScript inline or path points at a file containing it.
type PluginConfig struct {
	Name   string `toml:"name"`
	Source string `toml:"source"`
	Path   string `toml:"path"`
}

// BuildConfig configures the tree-processing pass.
type BuildConfig struct {
	Input  string `toml:"input"`
	Output string `toml:"output"`
	Stage  int    `toml:"stage"`
	Cache  string `toml:"cache"`
}

// Load parses an embroider.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "embroider.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Build.Input == "" {
		m.Build.Input = "templates"
	}
	if m.Build.Output == "" {
		m.Build.Output = "dist"
	}
	if m.Build.Stage == 0 {
		m.Build.Stage = 3
	}
	if m.Build.Cache == "" {
		m.Build.Cache = filepath.Join(".embroider", "cache.db")
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find an embroider.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "embroider.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// BundlePath returns the absolute path to the compiler bundle.
func (m *Manifest) BundlePath() string {
	if filepath.IsAbs(m.Compiler.Bundle) {
		return m.Compiler.Bundle
	}
	return filepath.Join(m.Dir, m.Compiler.Bundle)
}

// InputDir returns the absolute path to the template input tree.
func (m *Manifest) InputDir() string {
	return filepath.Join(m.Dir, m.Build.Input)
}

// OutputDir returns the absolute path to the build output tree.
func (m *Manifest) OutputDir() string {
	return filepath.Join(m.Dir, m.Build.Output)
}

// CachePath returns the absolute path to the per-file cache database.
func (m *Manifest) CachePath() string {
	if filepath.IsAbs(m.Build.Cache) {
		return m.Build.Cache
	}
	return filepath.Join(m.Dir, m.Build.Cache)
}
