// Package bundle loads a foreign template-compiler bundle and recovers
// its internal API surface.
//
// The bundle is a self-contained JavaScript script (shaped like Ember's
// ember-template-compiler.js) that exposes only a narrow precompile entry
// point. The internals this pipeline needs (the AST printer, the
// preprocessor and the compile-options registry) are recovered by
// executing the bundle under construction interception: every object its
// module system allocates is diverted into a capture list, which is then
// scanned for the recognizable module shapes.
//
// Each Load builds a fresh JavaScript runtime, so the interception is
// confined to that runtime and never touches process-global state.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/dop251/goja"
)

// ErrIncompatibleBundle indicates the bundle executed cleanly but does
// not expose the expected internal shape. There is no fallback
// extraction strategy.
var ErrIncompatibleBundle = errors.New("incompatible compiler bundle")

// truncateHelper trims an options object's AST-plugin list in place.
// Compiled once per runtime so option objects never leave JavaScript.
const truncateHelper = `(function (opts, n) {
	if (opts && opts.plugins && opts.plugins.ast && typeof opts.plugins.ast.slice === 'function') {
		opts.plugins.ast = opts.plugins.ast.slice(0, n);
	}
	return opts;
})`

// ExtractedCompiler is the recovered API surface of a compiler bundle.
//
// It owns a private JavaScript runtime. Plugin registration and
// environment initialization mutate shared state inside the bundle, so an
// ExtractedCompiler must never be shared across compilation cores.
type ExtractedCompiler struct {
	vm *goja.Runtime

	exports        *goja.Object // the bundle's public export object
	syntax         *goja.Object // internal syntax module: print, preprocess
	compileOptions *goja.Object // internal compile-options module: default, registerPlugin

	precompileFn     goja.Callable
	preprocessFn     goja.Callable
	printFn          goja.Callable
	defaultOptionsFn goja.Callable
	registerPluginFn goja.Callable
	truncateFn       goja.Callable

	features *goja.Object // global feature-flag table (_Ember.FEATURES)
	env      *goja.Object // global environment table (_Ember.ENV)

	identityHash string
}

// Load executes the compiler bundle at path under construction
// interception and assembles the extracted compiler. Executing the bundle
// runs arbitrary code from that file.
func Load(path string) (*ExtractedCompiler, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading compiler bundle %s: %w", path, err)
	}

	vm := goja.New()

	// CommonJS shim: the bundle publishes its narrow public surface
	// through module.exports.
	moduleObj := vm.NewObject()
	exportsObj := vm.NewObject()
	if err := moduleObj.Set("exports", exportsObj); err != nil {
		return nil, err
	}
	if err := vm.Set("module", moduleObj); err != nil {
		return nil, err
	}
	if err := vm.Set("exports", exportsObj); err != nil {
		return nil, err
	}
	if err := vm.Set("global", vm.GlobalObject()); err != nil {
		return nil, err
	}

	captured, err := runCaptured(vm, path, string(source))
	if err != nil {
		return nil, fmt.Errorf("executing compiler bundle %s: %w", path, err)
	}

	syntax := findSyntaxModule(captured)
	if syntax == nil {
		return nil, fmt.Errorf("%w: %s constructs no syntax module (print, preprocess)", ErrIncompatibleBundle, path)
	}
	compileOptions := findCompileOptionsModule(captured)
	if compileOptions == nil {
		return nil, fmt.Errorf("%w: %s constructs no compile-options module (default, registerPlugin)", ErrIncompatibleBundle, path)
	}

	// The bundle may have replaced module.exports wholesale.
	exportsValue := moduleObj.Get("exports")
	if exportsValue == nil || goja.IsUndefined(exportsValue) || goja.IsNull(exportsValue) {
		return nil, fmt.Errorf("%w: %s left module.exports empty", ErrIncompatibleBundle, path)
	}
	exports := exportsValue.ToObject(vm)

	precompileFn, ok := goja.AssertFunction(exports.Get("precompile"))
	if !ok {
		return nil, fmt.Errorf("%w: %s exports no precompile entry point", ErrIncompatibleBundle, path)
	}

	features, env, err := globalConfigOf(vm, exports)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIncompatibleBundle, path, err)
	}

	preprocessFn, _ := goja.AssertFunction(syntax.Get("preprocess"))
	printFn, _ := goja.AssertFunction(syntax.Get("print"))
	defaultOptionsFn, _ := goja.AssertFunction(compileOptions.Get("default"))
	registerPluginFn, _ := goja.AssertFunction(compileOptions.Get("registerPlugin"))

	truncateValue, err := vm.RunString(truncateHelper)
	if err != nil {
		return nil, err
	}
	truncateFn, _ := goja.AssertFunction(truncateValue)

	sum := sha256.Sum256(source)

	return &ExtractedCompiler{
		vm:               vm,
		exports:          exports,
		syntax:           syntax,
		compileOptions:   compileOptions,
		precompileFn:     precompileFn,
		preprocessFn:     preprocessFn,
		printFn:          printFn,
		defaultOptionsFn: defaultOptionsFn,
		registerPluginFn: registerPluginFn,
		truncateFn:       truncateFn,
		features:         features,
		env:              env,
		identityHash:     hex.EncodeToString(sum[:]),
	}, nil
}

// globalConfigOf locates the bundle's global configuration object
// (_Ember) and returns its FEATURES and ENV tables.
func globalConfigOf(vm *goja.Runtime, exports *goja.Object) (*goja.Object, *goja.Object, error) {
	emberValue := exports.Get("_Ember")
	if emberValue == nil || goja.IsUndefined(emberValue) || goja.IsNull(emberValue) {
		return nil, nil, fmt.Errorf("exports no _Ember global configuration")
	}
	ember := emberValue.ToObject(vm)

	featuresValue := ember.Get("FEATURES")
	if featuresValue == nil || goja.IsUndefined(featuresValue) || goja.IsNull(featuresValue) {
		return nil, nil, fmt.Errorf("_Ember has no FEATURES table")
	}
	envValue := ember.Get("ENV")
	if envValue == nil || goja.IsUndefined(envValue) || goja.IsNull(envValue) {
		return nil, nil, fmt.Errorf("_Ember has no ENV table")
	}
	return featuresValue.ToObject(vm), envValue.ToObject(vm), nil
}

// IdentityHash is the content hash of the bundle file. Two bundle files
// with identical bytes share an identity regardless of their paths.
func (c *ExtractedCompiler) IdentityHash() string {
	return c.identityHash
}

// Precompile invokes the bundle's public precompile entry point and
// returns the serialized template payload.
func (c *ExtractedCompiler) Precompile(contents, moduleName string) (string, error) {
	opts := c.vm.NewObject()
	if err := opts.Set("contents", contents); err != nil {
		return "", err
	}
	if err := opts.Set("moduleName", moduleName); err != nil {
		return "", err
	}
	v, err := c.precompileFn(c.exports, c.vm.ToValue(contents), opts)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// DefaultOptions builds the bundle's default compile options for one
// module. The returned options carry the full AST-plugin list: the
// user-registered prefix followed by the bundle's own built-ins.
func (c *ExtractedCompiler) DefaultOptions(contents, moduleName string) (goja.Value, error) {
	opts := c.vm.NewObject()
	if err := opts.Set("contents", contents); err != nil {
		return nil, err
	}
	if err := opts.Set("moduleName", moduleName); err != nil {
		return nil, err
	}
	return c.defaultOptionsFn(c.compileOptions, opts)
}

// BareOptions builds a minimal options object with an empty AST-plugin
// list, bypassing the options builder entirely.
func (c *ExtractedCompiler) BareOptions(contents, moduleName string) (goja.Value, error) {
	opts := c.vm.NewObject()
	if err := opts.Set("contents", contents); err != nil {
		return nil, err
	}
	if err := opts.Set("moduleName", moduleName); err != nil {
		return nil, err
	}
	plugins := c.vm.NewObject()
	if err := plugins.Set("ast", c.vm.NewArray()); err != nil {
		return nil, err
	}
	if err := opts.Set("plugins", plugins); err != nil {
		return nil, err
	}
	return opts, nil
}

// TruncateASTPlugins keeps only the first n entries of the options
// object's AST-plugin list. No-op when the options carry no such list.
func (c *ExtractedCompiler) TruncateASTPlugins(opts goja.Value, n int) error {
	_, err := c.truncateFn(goja.Undefined(), opts, c.vm.ToValue(n))
	return err
}

// Preprocess parses contents into the bundle's AST form using the given
// options object.
func (c *ExtractedCompiler) Preprocess(contents string, opts goja.Value) (goja.Value, error) {
	return c.preprocessFn(c.syntax, c.vm.ToValue(contents), opts)
}

// Print renders an AST back to template source.
func (c *ExtractedCompiler) Print(ast goja.Value) (string, error) {
	v, err := c.printFn(c.syntax, ast)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// CompilePlugin evaluates JavaScript source to a plugin value inside the
// bundle's runtime. The source must evaluate to a function.
func (c *ExtractedCompiler) CompilePlugin(name, source string) (goja.Value, error) {
	prog, err := goja.Compile(name, "("+source+"\n)", false)
	if err != nil {
		return nil, err
	}
	v, err := c.vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	if !isFunction(v) {
		return nil, fmt.Errorf("plugin %s does not evaluate to a function", name)
	}
	return v, nil
}

// RegisterPlugin installs a plugin into the bundle's plugin registry.
// kind names the registry slot; AST transforms use "ast".
func (c *ExtractedCompiler) RegisterPlugin(kind string, plugin goja.Value) error {
	_, err := c.registerPluginFn(c.compileOptions, c.vm.ToValue(kind), plugin)
	return err
}

// SetFeature writes one entry into the bundle's feature-flag table.
func (c *ExtractedCompiler) SetFeature(name string, value any) error {
	return c.features.Set(name, value)
}

// SetEnv writes one entry into the bundle's environment table.
func (c *ExtractedCompiler) SetEnv(name string, value any) error {
	return c.env.Set(name, value)
}
