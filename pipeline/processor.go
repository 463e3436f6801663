// Package pipeline applies a compilation core's stage operations across
// a file tree with persistent per-file caching.
//
// Stage 1 runs only user template transforms and leaves output in
// template form under the original extension; stage 3 runs the full
// compile to an executable module under the .js extension. Per-file
// recomputation happens at most once per distinct (stage, compiler
// identity, file content) triple across incremental rebuilds.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/Turbo87/embroider/compiler"
)

// Stage selects which compilation-core operation drives a tree pass.
type Stage int

const (
	// StageTransform runs only user-supplied template transforms.
	StageTransform Stage = 1
	// StageCompile runs the full compile to an executable module.
	StageCompile Stage = 3
)

var templateExtensions = map[string]bool{
	".hbs":        true,
	".handlebars": true,
}

const outputExtension = ".js"

var log = commonlog.GetLogger("embroider.pipeline")

// Processor drives one stage of template processing over file trees.
type Processor struct {
	core  *compiler.Core
	stage Stage
	store *Store // nil disables persistent caching
}

// NewProcessor creates a processor for the given stage. store may be nil
// to disable persistent caching.
func NewProcessor(core *compiler.Core, stage Stage, store *Store) (*Processor, error) {
	if stage != StageTransform && stage != StageCompile {
		return nil, fmt.Errorf("unsupported stage %d", stage)
	}
	return &Processor{core: core, stage: stage, store: store}, nil
}

// ProcessTree processes every template file under inputDir into
// outputDir, copying non-template files through unchanged. The first
// per-file error aborts the pass; outputs already written and cache
// entries from earlier runs are left in place, and no cache entry is
// written for the failed file.
func (p *Processor) ProcessTree(inputDir, outputDir string) error {
	return filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !templateExtensions[filepath.Ext(path)] {
			return writeOutput(outputDir, rel, content)
		}
		outRel, output, err := p.processFile(rel, content)
		if err != nil {
			return err
		}
		return writeOutput(outputDir, outRel, output)
	})
}

// processFile runs one template through the stage operation, consulting
// the persistent cache first.
func (p *Processor) processFile(rel string, content []byte) (string, []byte, error) {
	var key string
	if p.store != nil {
		coreKey, err := p.core.CacheKey()
		if err != nil {
			return "", nil, err
		}
		key = p.fileCacheKey(coreKey, content)
		e, ok, err := p.store.Get(key)
		if err != nil {
			return "", nil, err
		}
		if ok {
			log.Debugf("cache hit: %s", rel)
			return e.OutputPath, e.Output, nil
		}
	}

	moduleName := moduleNameOf(rel)
	var outRel string
	var output []byte
	switch p.stage {
	case StageTransform:
		out, err := p.core.ApplyTransforms(moduleName, string(content))
		if err != nil {
			return "", nil, err
		}
		outRel, output = rel, []byte(out)
	case StageCompile:
		out, err := p.core.Compile(moduleName, string(content))
		if err != nil {
			return "", nil, err
		}
		outRel, output = replaceExtension(rel, outputExtension), []byte(out)
	}
	log.Debugf("stage %d: %s -> %s", p.stage, rel, outRel)

	if p.store != nil {
		if err := p.store.Put(key, &Entry{OutputPath: outRel, Output: output}); err != nil {
			return "", nil, err
		}
	}
	return outRel, output, nil
}

// fileCacheKey combines stage number, compiler identity and file
// content. Two inputs hashing to the same key are guaranteed to produce
// identical output; that guarantee is the sole contract for skipping
// recomputation.
func (p *Processor) fileCacheKey(coreKey string, content []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%s\x00", p.stage, coreKey)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// moduleNameOf derives a module name from a tree-relative path: slash
// separated, extension stripped.
func moduleNameOf(rel string) string {
	slashed := filepath.ToSlash(rel)
	return strings.TrimSuffix(slashed, filepath.Ext(slashed))
}

func replaceExtension(rel, ext string) string {
	return strings.TrimSuffix(rel, filepath.Ext(rel)) + ext
}

func writeOutput(outputDir, rel string, content []byte) error {
	dest := filepath.Join(outputDir, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, content, 0644)
}
