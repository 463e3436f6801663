package compiler

import (
	"fmt"

	"github.com/Turbo87/embroider/bundle"
)

// registerPlugins installs the host plugins, then the resolver's
// transformer, into the extracted compiler's AST-plugin registry.
//
// The returned count covers exactly the user-installed prefix. The
// options builder later appends the bundle's own built-in plugins after
// that prefix, and the pre-stage transform must slice them off again,
// which only works if registration order is preserved exactly.
func registerPlugins(ec *bundle.ExtractedCompiler, c *Core) (int, error) {
	plugins := make([]Plugin, 0, len(c.params.Plugins)+1)
	plugins = append(plugins, c.params.Plugins...)

	if c.params.Resolver != nil {
		transform, err := c.params.Resolver.ASTTransformer(c)
		if err != nil {
			return 0, fmt.Errorf("building resolver transform: %w", err)
		}
		plugins = append(plugins, transform)
	}

	for _, p := range plugins {
		if p.Source == "" {
			return 0, fmt.Errorf("plugin %s carries no source", p.Name)
		}
		fn, err := ec.CompilePlugin(p.Name, p.Source)
		if err != nil {
			return 0, fmt.Errorf("compiling plugin %s: %w", p.Name, err)
		}
		if err := ec.RegisterPlugin("ast", fn); err != nil {
			return 0, fmt.Errorf("registering plugin %s: %w", p.Name, err)
		}
	}
	return len(plugins), nil
}
