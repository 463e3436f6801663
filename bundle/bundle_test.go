package bundle

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dop251/goja"

	"github.com/Turbo87/embroider/internal/testbundle"
)

func TestLoadExtractsEntryPoints(t *testing.T) {
	path := testbundle.Write(t, testbundle.Source)

	ec, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(ec.IdentityHash()) != 64 {
		t.Errorf("identity hash = %q, want 64 hex chars", ec.IdentityHash())
	}

	out, err := ec.Precompile("Hello", "greeting")
	if err != nil {
		t.Fatalf("Precompile failed: %v", err)
	}
	if !strings.Contains(out, `"block":"Hello"`) {
		t.Errorf("precompiled payload = %q, want block Hello", out)
	}
	if !strings.Contains(out, `"moduleName":"greeting"`) {
		t.Errorf("precompiled payload = %q, want moduleName greeting", out)
	}
}

func TestLoadRejectsIncompatibleBundle(t *testing.T) {
	path := testbundle.Write(t, testbundle.NoSyntaxSource)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load succeeded, want incompatible-bundle error")
	}
	if !errors.Is(err, ErrIncompatibleBundle) {
		t.Errorf("error = %v, want ErrIncompatibleBundle", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not name the bundle path", err.Error())
	}
}

func TestIdentityHashIsContentBased(t *testing.T) {
	a := testbundle.Write(t, testbundle.Source)
	b := testbundle.Write(t, testbundle.Source)

	ecA, err := Load(a)
	if err != nil {
		t.Fatal(err)
	}
	ecB, err := Load(b)
	if err != nil {
		t.Fatal(err)
	}
	if ecA.IdentityHash() != ecB.IdentityHash() {
		t.Error("identical bundle bytes at different paths produced different identity hashes")
	}

	changed := filepath.Join(t.TempDir(), "changed.js")
	if err := os.WriteFile(changed, []byte(testbundle.Source+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ecC, err := Load(changed)
	if err != nil {
		t.Fatal(err)
	}
	if ecC.IdentityHash() == ecA.IdentityHash() {
		t.Error("changed bundle bytes kept the same identity hash")
	}
}

func TestPreprocessAndPrint(t *testing.T) {
	ec, err := Load(testbundle.Write(t, testbundle.Source))
	if err != nil {
		t.Fatal(err)
	}

	opts, err := ec.BareOptions("Hi", "m")
	if err != nil {
		t.Fatalf("BareOptions failed: %v", err)
	}
	ast, err := ec.Preprocess("Hi", opts)
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	out, err := ec.Print(ast)
	if err != nil {
		t.Fatalf("Print failed: %v", err)
	}
	if out != "Hi" {
		t.Errorf("printed = %q, want Hi", out)
	}
}

func TestDefaultOptionsAppendBuiltinsAfterUserPlugins(t *testing.T) {
	ec, err := Load(testbundle.Write(t, testbundle.Source))
	if err != nil {
		t.Fatal(err)
	}

	plugin, err := ec.CompilePlugin("user", "function (t) { return t + '[user]'; }")
	if err != nil {
		t.Fatalf("CompilePlugin failed: %v", err)
	}
	if err := ec.RegisterPlugin("ast", plugin); err != nil {
		t.Fatalf("RegisterPlugin failed: %v", err)
	}

	opts, err := ec.DefaultOptions("X", "m")
	if err != nil {
		t.Fatal(err)
	}
	ast, err := ec.Preprocess("X", opts)
	if err != nil {
		t.Fatal(err)
	}
	out, err := ec.Print(ast)
	if err != nil {
		t.Fatal(err)
	}
	if out != "X[user][builtin][builtin][builtin]" {
		t.Errorf("full plugin list output = %q", out)
	}

	opts, err = ec.DefaultOptions("X", "m")
	if err != nil {
		t.Fatal(err)
	}
	if err := ec.TruncateASTPlugins(opts, 1); err != nil {
		t.Fatalf("TruncateASTPlugins failed: %v", err)
	}
	ast, err = ec.Preprocess("X", opts)
	if err != nil {
		t.Fatal(err)
	}
	out, err = ec.Print(ast)
	if err != nil {
		t.Fatal(err)
	}
	if out != "X[user]" {
		t.Errorf("truncated plugin list output = %q, want X[user]", out)
	}
}

func TestCaptureRestoresObjectCreate(t *testing.T) {
	vm := goja.New()
	orig := vm.Get("Object").ToObject(vm).Get("create")

	captured, err := runCaptured(vm, "test.js", "Object.create({a: 1});")
	if err != nil {
		t.Fatalf("runCaptured failed: %v", err)
	}
	if len(captured) != 1 {
		t.Errorf("captured %d objects, want 1", len(captured))
	}

	after := vm.Get("Object").ToObject(vm).Get("create")
	if !after.StrictEquals(orig) {
		t.Error("Object.create was not restored after execution")
	}

	// allocations after the run must not land in the capture list
	if _, err := vm.RunString("Object.create({b: 2});"); err != nil {
		t.Fatal(err)
	}
	if len(captured) != 1 {
		t.Errorf("capture list grew after restoration: %d entries", len(captured))
	}
}

func TestCaptureRestoresObjectCreateOnThrow(t *testing.T) {
	vm := goja.New()
	orig := vm.Get("Object").ToObject(vm).Get("create")

	_, err := runCaptured(vm, "boom.js", "Object.create({}); throw new Error('boom');")
	if err == nil {
		t.Fatal("runCaptured succeeded, want error")
	}

	after := vm.Get("Object").ToObject(vm).Get("create")
	if !after.StrictEquals(orig) {
		t.Error("Object.create was not restored on the failure path")
	}
}
