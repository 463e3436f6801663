// Package compiler drives a foreign template-compiler bundle through a
// staged, cacheable compilation pipeline.
//
// A Core wraps one extracted compiler and exposes the pipeline's
// operations: Precompile and Compile for the final stage, ApplyTransforms
// for the pre-stage transform, Parse for inspection. Extraction, plugin
// registration and environment initialization run lazily, exactly once,
// on first use.
package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/Turbo87/embroider/bundle"
)

// ResolvedDependency declares that a compiled template needs a named
// runtime module bound to a concrete import path.
type ResolvedDependency struct {
	RuntimeName string `json:"runtimeName"`
	Path        string `json:"path"`
}

// Resolver maps symbolic references inside templates to concrete modules.
//
// ASTTransformer is called once during core setup; the returned plugin is
// registered after all host plugins. The transformer may capture the core
// for use at plugin run time, but must not invoke compile operations
// while it is being constructed; setup is still in progress.
// DependenciesOf is called once per compiled module; the order of the
// returned sequence determines the order of generated import statements.
type Resolver interface {
	ASTTransformer(c *Core) (Plugin, error)
	DependenciesOf(moduleName string) ([]ResolvedDependency, error)
}

// Plugin is one AST transform to install into the extracted compiler.
// Source is JavaScript text evaluating to the plugin function. Plugins
// carried as source survive serialization into a worker process.
type Plugin struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Params configures a compilation core.
type Params struct {
	// BundlePath locates the compiler bundle script.
	BundlePath string

	// Environment is merged into the bundle's global configuration
	// before any compilation: the FEATURES entry feeds the feature-flag
	// table, every other top-level key feeds the env table.
	Environment EnvironmentConfig

	// Plugins are host-supplied AST transforms, registered in order
	// before the resolver's.
	Plugins []Plugin

	// Resolver, when present, contributes one more AST transform plus
	// the per-module dependency lists. Optional.
	Resolver Resolver
}

// Core exposes the compilation operations over one extracted compiler.
//
// A Core is created once per build configuration and is safe for use
// from multiple goroutines: the first caller performs setup, concurrent
// callers block on it, and the extracted compiler itself serializes all
// access through its runtime lock.
type Core struct {
	params       Params
	parallelSafe bool

	setupOnce sync.Once
	setupErr  error

	// set during setup, immutable afterwards
	ec              *bundle.ExtractedCompiler
	userPluginCount int
	cacheKey        string

	// the extracted compiler's runtime is single-threaded
	mu sync.Mutex
}

// New creates a core. The bundle is not touched until the first
// operation (or CacheKey) needs it.
func New(p Params) *Core {
	return &Core{
		params:       p,
		parallelSafe: p.Resolver == nil,
	}
}

// setup extracts the compiler, registers plugins and applies the
// environment configuration. Runs at most once per core; an extraction
// failure is remembered and returned to every subsequent caller.
func (c *Core) setup() error {
	c.setupOnce.Do(func() {
		ec, err := bundle.Load(c.params.BundlePath)
		if err != nil {
			c.setupErr = err
			return
		}
		count, err := registerPlugins(ec, c)
		if err != nil {
			c.setupErr = err
			return
		}
		if err := initializeEnvironment(ec, c.params.Environment); err != nil {
			c.setupErr = err
			return
		}

		// TODO: reflect resolver configuration and plugin identity in
		// the cache key; today two builds differing only in those share
		// a key.
		sum := sha256.Sum256([]byte(ec.IdentityHash()))

		c.ec = ec
		c.userPluginCount = count
		c.cacheKey = hex.EncodeToString(sum[:])
	})
	return c.setupErr
}

// Precompiled is the output of Precompile: the serialized template
// payload plus the module's resolved dependencies, in resolver order.
type Precompiled struct {
	Compiled     string
	Dependencies []ResolvedDependency
}

// Precompile compiles contents into the serialized template payload and,
// when a resolver is configured, asks it for the module's dependency
// list. Without a resolver the dependency list is always empty. A
// leading byte-order marker is stripped before compilation.
func (c *Core) Precompile(moduleName, contents string) (*Precompiled, error) {
	if err := c.setup(); err != nil {
		return nil, err
	}
	contents = strings.TrimPrefix(contents, "\uFEFF")

	c.mu.Lock()
	compiled, err := c.ec.Precompile(contents, moduleName)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("precompiling %s: %w", moduleName, err)
	}

	var deps []ResolvedDependency
	if c.params.Resolver != nil {
		deps, err = c.params.Resolver.DependenciesOf(moduleName)
		if err != nil {
			return nil, err
		}
	}
	return &Precompiled{Compiled: compiled, Dependencies: deps}, nil
}

// Compile emits the executable module for one template: one import plus
// one runtime-registration statement per dependency, in dependency
// order, then the default export wrapping the compiled payload. Output
// is deterministic for identical inputs over an identical bundle.
func (c *Core) Compile(moduleName, contents string) (string, error) {
	pre, err := c.Precompile(moduleName, contents)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, dep := range pre.Dependencies {
		fmt.Fprintf(&b, "import a%d from %q;\n", i, dep.Path)
		fmt.Fprintf(&b, "window.define('%s', function(){ return a%d;});\n", dep.RuntimeName, i)
	}
	fmt.Fprintf(&b, "export default Ember.HTMLBars.template(%s);", pre.Compiled)
	return b.String(), nil
}

// ApplyTransforms runs only the user-installed AST plugins over contents
// and prints the result back to template source. The built-in plugins
// the options builder appends are sliced off here: they run later,
// inside the full compile, where the exact target runtime version is
// known, and running them twice would double-apply their rewrites.
func (c *Core) ApplyTransforms(moduleName, contents string) (string, error) {
	if err := c.setup(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	opts, err := c.ec.DefaultOptions(contents, moduleName)
	if err != nil {
		return "", fmt.Errorf("building options for %s: %w", moduleName, err)
	}
	if err := c.ec.TruncateASTPlugins(opts, c.userPluginCount); err != nil {
		return "", fmt.Errorf("truncating plugins for %s: %w", moduleName, err)
	}
	ast, err := c.ec.Preprocess(contents, opts)
	if err != nil {
		return "", fmt.Errorf("transforming %s: %w", moduleName, err)
	}
	out, err := c.ec.Print(ast)
	if err != nil {
		return "", fmt.Errorf("printing %s: %w", moduleName, err)
	}
	return out, nil
}

// Parse preprocesses contents with no plugins at all and returns the
// exported AST. Inspection only; never used for output generation.
func (c *Core) Parse(moduleName, contents string) (any, error) {
	if err := c.setup(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	opts, err := c.ec.BareOptions(contents, moduleName)
	if err != nil {
		return nil, fmt.Errorf("building options for %s: %w", moduleName, err)
	}
	ast, err := c.ec.Preprocess(contents, opts)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", moduleName, err)
	}
	return ast.Export(), nil
}

// CacheKey identifies the compiler configuration for cache invalidation.
// Two cores over byte-identical bundle files share a key regardless of
// the bundle paths; a single changed byte produces a different key.
func (c *Core) CacheKey() (string, error) {
	if err := c.setup(); err != nil {
		return "", err
	}
	return c.cacheKey, nil
}

// ParallelSafe reports whether this core's configuration can be
// replicated into independent worker processes. A resolver clears the
// flag: it cannot cross the process boundary.
func (c *Core) ParallelSafe() bool {
	return c.parallelSafe
}
