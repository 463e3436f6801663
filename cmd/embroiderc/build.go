package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Turbo87/embroider/compiler"
	"github.com/Turbo87/embroider/manifest"
	"github.com/Turbo87/embroider/pipeline"
)

// loadManifest finds the nearest embroider.toml or exits.
func loadManifest() *manifest.Manifest {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		fmt.Fprintln(os.Stderr, "Error: no embroider.toml found")
		os.Exit(1)
	}
	return m
}

// coreFromManifest builds the compilation core the manifest describes.
func coreFromManifest(m *manifest.Manifest) *compiler.Core {
	plugins, err := loadPlugins(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading plugins: %v\n", err)
		os.Exit(1)
	}
	return compiler.New(compiler.Params{
		BundlePath:  m.BundlePath(),
		Environment: compiler.EnvironmentConfig(m.Environment),
		Plugins:     plugins,
	})
}

// loadPlugins materializes the manifest's plugin declarations, reading
// path-based plugin sources from disk.
func loadPlugins(m *manifest.Manifest) ([]compiler.Plugin, error) {
	var plugins []compiler.Plugin
	for _, pc := range m.Plugins {
		source := pc.Source
		if source == "" && pc.Path != "" {
			data, err := os.ReadFile(filepath.Join(m.Dir, pc.Path))
			if err != nil {
				return nil, fmt.Errorf("reading plugin %s: %w", pc.Name, err)
			}
			source = string(data)
		}
		plugins = append(plugins, compiler.Plugin{Name: pc.Name, Source: source})
	}
	return plugins, nil
}

// handleBuildCommand processes the `embroiderc build` subcommand.
// Usage:
//
//	embroiderc build                # stage and dirs from embroider.toml
//	embroiderc build --stage 1      # override stage
//	embroiderc build -o out         # override output dir
func handleBuildCommand(args []string, verbose bool) {
	var outputDir string
	var stageOverride int

	// Parse flags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "--output":
			if i+1 < len(args) {
				outputDir = args[i+1]
				i++
			} else {
				fmt.Fprintln(os.Stderr, "Error: -o requires an output path")
				os.Exit(1)
			}
		case "--stage":
			if i+1 < len(args) {
				n, err := strconv.Atoi(args[i+1])
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: invalid stage %q\n", args[i+1])
					os.Exit(1)
				}
				stageOverride = n
				i++
			} else {
				fmt.Fprintln(os.Stderr, "Error: --stage requires a stage number")
				os.Exit(1)
			}
		}
	}

	m := loadManifest()
	core := coreFromManifest(m)

	stage := pipeline.Stage(m.Build.Stage)
	if stageOverride != 0 {
		stage = pipeline.Stage(stageOverride)
	}
	if outputDir == "" {
		outputDir = m.OutputDir()
	}

	store, err := pipeline.OpenStore(m.CachePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	proc, err := pipeline.NewProcessor(core, stage, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := proc.ProcessTree(m.InputDir(), outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error building: %v\n", err)
		os.Exit(1)
	}

	if verbose {
		fmt.Printf("Built %s (stage %d)\n", outputDir, stage)
	}
}

type oneShotOp int

const (
	opCompile oneShotOp = iota
	opTransform
)

// handleOneShotCommand compiles or transforms a single template file and
// prints the result to stdout.
func handleOneShotCommand(args []string, op oneShotOp) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: embroiderc compile|transform <file>")
		os.Exit(1)
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	moduleName := strings.TrimSuffix(filepath.ToSlash(args[0]), filepath.Ext(args[0]))

	core := coreFromManifest(loadManifest())

	var out string
	switch op {
	case opCompile:
		out, err = core.Compile(moduleName, string(content))
	case opTransform:
		out, err = core.ApplyTransforms(moduleName, string(content))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

// handleSerializeCommand emits the portable configuration fragment for
// the manifest's core, relative to the given base directory (default:
// the manifest directory).
func handleSerializeCommand(args []string) {
	m := loadManifest()
	baseDir := m.Dir
	if len(args) > 0 {
		baseDir = args[0]
	}

	core := coreFromManifest(m)
	fragment, err := core.Serialize(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error serializing: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(fragment)
}
