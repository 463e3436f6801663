package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Turbo87/embroider/compiler"
	"github.com/Turbo87/embroider/internal/testbundle"
)

func newTestCore(t *testing.T) *compiler.Core {
	t.Helper()
	return compiler.New(compiler.Params{
		BundlePath: testbundle.Write(t, testbundle.Source),
	})
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func readOutput(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("reading output %s: %v", rel, err)
	}
	return string(data)
}

func TestStageExtensionRule(t *testing.T) {
	input := t.TempDir()
	writeTree(t, input, map[string]string{"templates/foo.hbs": "Hello"})
	core := newTestCore(t)

	out1 := t.TempDir()
	p1, err := NewProcessor(core, StageTransform, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p1.ProcessTree(input, out1); err != nil {
		t.Fatalf("stage 1 ProcessTree failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out1, "templates", "foo.hbs")); err != nil {
		t.Errorf("stage 1 did not keep the template extension: %v", err)
	}

	out3 := t.TempDir()
	p3, err := NewProcessor(core, StageCompile, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p3.ProcessTree(input, out3); err != nil {
		t.Fatalf("stage 3 ProcessTree failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out3, "templates", "foo.js")); err != nil {
		t.Errorf("stage 3 did not rewrite the extension to .js: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out3, "templates", "foo.hbs")); err == nil {
		t.Error("stage 3 left a template-extension output behind")
	}
}

func TestStageTransformOutputStaysTemplateText(t *testing.T) {
	input := t.TempDir()
	writeTree(t, input, map[string]string{"foo.hbs": "Hello"})
	out := t.TempDir()

	p, err := NewProcessor(newTestCore(t), StageTransform, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.ProcessTree(input, out); err != nil {
		t.Fatal(err)
	}

	got := readOutput(t, out, "foo.hbs")
	if got != "Hello" {
		t.Errorf("stage 1 output = %q, want untouched template text", got)
	}
}

func TestStageCompileOutputIsExecutableModule(t *testing.T) {
	input := t.TempDir()
	writeTree(t, input, map[string]string{"templates/greeting.hbs": "Hello"})
	out := t.TempDir()

	p, err := NewProcessor(newTestCore(t), StageCompile, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.ProcessTree(input, out); err != nil {
		t.Fatal(err)
	}

	got := readOutput(t, out, "templates/greeting.js")
	if !strings.HasPrefix(got, "export default Ember.HTMLBars.template(") {
		t.Errorf("stage 3 output = %q, want wrapped template module", got)
	}
	if !strings.Contains(got, `"moduleName":"templates/greeting"`) {
		t.Errorf("stage 3 output = %q, want module name templates/greeting", got)
	}
}

func TestNonTemplateFilesPassThrough(t *testing.T) {
	input := t.TempDir()
	writeTree(t, input, map[string]string{
		"templates/foo.hbs": "Hello",
		"styles/app.css":    "body {}",
	})
	out := t.TempDir()

	p, err := NewProcessor(newTestCore(t), StageCompile, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.ProcessTree(input, out); err != nil {
		t.Fatal(err)
	}

	if got := readOutput(t, out, "styles/app.css"); got != "body {}" {
		t.Errorf("pass-through file = %q, want unchanged content", got)
	}
}

func TestProcessTreeWritesAndConsultsCache(t *testing.T) {
	input := t.TempDir()
	writeTree(t, input, map[string]string{"templates/foo.hbs": "Hello"})

	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	core := newTestCore(t)
	p, err := NewProcessor(core, StageCompile, store)
	if err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	if err := p.ProcessTree(input, out); err != nil {
		t.Fatal(err)
	}

	coreKey, err := core.CacheKey()
	if err != nil {
		t.Fatal(err)
	}
	key := p.fileCacheKey(coreKey, []byte("Hello"))
	e, ok, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("processing left no cache entry behind")
	}
	if e.OutputPath != filepath.Join("templates", "foo.js") {
		t.Errorf("cached output path = %q", e.OutputPath)
	}

	// A cache hit must be served verbatim, without recompilation.
	if err := store.Put(key, &Entry{OutputPath: e.OutputPath, Output: []byte("CACHED")}); err != nil {
		t.Fatal(err)
	}
	out2 := t.TempDir()
	if err := p.ProcessTree(input, out2); err != nil {
		t.Fatal(err)
	}
	if got := readOutput(t, out2, "templates/foo.js"); got != "CACHED" {
		t.Errorf("second run output = %q, want the cached entry", got)
	}
}

func TestProcessTreeAbortsOnCompileErrorWithoutCacheWrite(t *testing.T) {
	input := t.TempDir()
	writeTree(t, input, map[string]string{
		"templates/bad.hbs":  "FAIL",
		"templates/good.hbs": "Hello",
	})

	store, err := OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	core := compiler.New(compiler.Params{
		BundlePath: testbundle.Write(t, testbundle.FailingSource),
	})
	p, err := NewProcessor(core, StageCompile, store)
	if err != nil {
		t.Fatal(err)
	}

	err = p.ProcessTree(input, t.TempDir())
	if err == nil {
		t.Fatal("ProcessTree succeeded over a failing template")
	}
	if !strings.Contains(err.Error(), "templates/bad") {
		t.Errorf("error %q does not name the failing module", err.Error())
	}

	coreKey, err := core.CacheKey()
	if err != nil {
		t.Fatal(err)
	}
	key := p.fileCacheKey(coreKey, []byte("FAIL"))
	if _, ok, err := store.Get(key); err != nil || ok {
		t.Errorf("failed file left a cache entry behind: ok=%v err=%v", ok, err)
	}
}

func TestCacheKeyVariesByStage(t *testing.T) {
	core := newTestCore(t)
	coreKey, err := core.CacheKey()
	if err != nil {
		t.Fatal(err)
	}

	p1, _ := NewProcessor(core, StageTransform, nil)
	p3, _ := NewProcessor(core, StageCompile, nil)
	if p1.fileCacheKey(coreKey, []byte("Hello")) == p3.fileCacheKey(coreKey, []byte("Hello")) {
		t.Error("stage 1 and stage 3 share a per-file cache key")
	}
}

func TestNewProcessorRejectsUnknownStage(t *testing.T) {
	if _, err := NewProcessor(newTestCore(t), Stage(2), nil); err == nil {
		t.Error("NewProcessor accepted stage 2")
	}
}
