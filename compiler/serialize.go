package compiler

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// PortableConfig is the JSON projection of a core's configuration. A
// worker process with access to the same binary distribution can
// reconstruct an equivalent core from it via FromPortable.
type PortableConfig struct {
	Version      int               `json:"version"`
	Bundle       string            `json:"bundle"`
	Environment  EnvironmentConfig `json:"environment,omitempty"`
	Plugins      []Plugin          `json:"plugins,omitempty"`
	ParallelSafe bool              `json:"parallelSafe"`
}

const portableVersion = 1

// Serialize projects the core's configuration into a self-contained JSON
// fragment with the bundle path rewritten relative to baseDir, so the
// fragment stays valid when the consuming process runs with a different
// working directory.
//
// A resolver cannot cross the process boundary: it is omitted from the
// fragment and recorded as ParallelSafe=false, telling consumers that
// dependency queries must stay in the primary process.
func (c *Core) Serialize(baseDir string) (string, error) {
	rel, err := portablePath(c.params.BundlePath, baseDir)
	if err != nil {
		return "", err
	}
	cfg := PortableConfig{
		Version:      portableVersion,
		Bundle:       rel,
		Environment:  c.params.Environment,
		Plugins:      c.params.Plugins,
		ParallelSafe: c.parallelSafe,
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing portable config: %w", err)
	}
	return string(data), nil
}

// FromPortable reconstructs a core from a serialized fragment. baseDir
// must be the directory the fragment's relative paths were written
// against. The reconstructed core carries the fragment's parallel-safety
// flag.
func FromPortable(fragment []byte, baseDir string) (*Core, error) {
	var cfg PortableConfig
	if err := json.Unmarshal(fragment, &cfg); err != nil {
		return nil, fmt.Errorf("parsing portable config: %w", err)
	}
	if cfg.Version != portableVersion {
		return nil, fmt.Errorf("unsupported portable config version %d", cfg.Version)
	}
	c := New(Params{
		BundlePath:  filepath.Join(baseDir, filepath.FromSlash(cfg.Bundle)),
		Environment: cfg.Environment,
		Plugins:     cfg.Plugins,
	})
	c.parallelSafe = cfg.ParallelSafe
	return c, nil
}

// portablePath rewrites path relative to baseDir, slash-separated, so it
// survives transfer to a process with another working directory (or
// operating system).
func portablePath(path, baseDir string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", fmt.Errorf("bundle path %s is not portable relative to %s: %w", path, baseDir, err)
	}
	return filepath.ToSlash(rel), nil
}
