package bundle

import (
	"fmt"

	"github.com/dop251/goja"
)

// runCaptured executes a compiler bundle's source inside vm with the
// runtime's Object.create wrapped so that every object the bundle
// constructs through it is appended to the returned capture list.
//
// The bundle's internal module system allocates each module's export
// object via Object.create, so the capture list ends up holding every
// internal module the bundle builds during its one-time execution,
// including the ones it never exposes publicly.
//
// The wrapper is removed before returning, on the failure path too.
// Leaving it installed would keep capturing unrelated allocations made
// later in the same runtime (plugin evaluation, compile options).
func runCaptured(vm *goja.Runtime, name, source string) ([]*goja.Object, error) {
	objectCtor := vm.Get("Object").ToObject(vm)
	origValue := objectCtor.Get("create")
	origCreate, ok := goja.AssertFunction(origValue)
	if !ok {
		return nil, fmt.Errorf("runtime exposes no Object.create")
	}

	var captured []*goja.Object
	wrapper := func(call goja.FunctionCall) goja.Value {
		v, err := origCreate(call.This, call.Arguments...)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if obj, ok := v.(*goja.Object); ok {
			captured = append(captured, obj)
		}
		return v
	}
	if err := objectCtor.Set("create", wrapper); err != nil {
		return nil, fmt.Errorf("installing capture sink: %w", err)
	}
	defer objectCtor.Set("create", origValue)

	prog, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, err
	}
	if _, err := vm.RunProgram(prog); err != nil {
		return captured, err
	}
	return captured, nil
}

// findSyntaxModule scans the capture list for the bundle's syntax module:
// the one object exposing both an AST printer and a preprocessor.
func findSyntaxModule(captured []*goja.Object) *goja.Object {
	for _, obj := range captured {
		if isFunction(obj.Get("print")) && isFunction(obj.Get("preprocess")) {
			return obj
		}
	}
	return nil
}

// findCompileOptionsModule scans the capture list for the compile-options
// module, which sits alongside the syntax module: an options builder as
// its default export plus the plugin registry.
func findCompileOptionsModule(captured []*goja.Object) *goja.Object {
	for _, obj := range captured {
		if isFunction(obj.Get("default")) && isFunction(obj.Get("registerPlugin")) {
			return obj
		}
	}
	return nil
}

func isFunction(v goja.Value) bool {
	if v == nil {
		return false
	}
	_, ok := goja.AssertFunction(v)
	return ok
}
