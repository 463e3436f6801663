// Package testbundle provides miniature compiler bundles for tests.
//
// The fixtures have the same observable shape as a real
// ember-template-compiler.js: a module system that allocates module
// export objects through Object.create, an internal syntax module, an
// internal compile-options module, and a narrow public export.
package testbundle

import (
	"os"
	"path/filepath"
	"testing"
)

// Source is the standard fixture. Its precompile entry point serializes
// the template and module name; its options builder appends three
// built-in plugins after whatever was registered; plugins are plain
// text-rewriting functions.
const Source = `(function () {
	function defineModule(api) {
		// the module system hands out export objects built via Object.create
		return Object.create(api);
	}

	var syntax = defineModule({
		preprocess: function (template, options) {
			var plugins = (options && options.plugins && options.plugins.ast) || [];
			var body = template;
			for (var i = 0; i < plugins.length; i++) {
				body = plugins[i](body);
			}
			return { type: 'Template', body: body };
		},
		print: function (ast) {
			return ast.body;
		},
	});

	var registered = [];

	function builtinTransform(body) {
		return body + '[builtin]';
	}

	var compileOptions = defineModule({
		default: function (options) {
			var opts = options || {};
			var ast = registered.slice();
			ast.push(builtinTransform);
			ast.push(builtinTransform);
			ast.push(builtinTransform);
			opts.plugins = { ast: ast };
			return opts;
		},
		registerPlugin: function (kind, plugin) {
			if (kind === 'ast') {
				registered.push(plugin);
			}
		},
	});

	void syntax;
	void compileOptions;

	module.exports = {
		precompile: function (template, options) {
			return JSON.stringify({
				block: template,
				moduleName: options && options.moduleName,
			});
		},
		_Ember: { FEATURES: {}, ENV: {} },
	};
})();
`

// EnvProbeSource is Source with a precompile entry point that reports the
// bundle's global configuration tables, so tests can observe environment
// initialization.
const EnvProbeSource = `(function () {
	function defineModule(api) {
		return Object.create(api);
	}

	var syntax = defineModule({
		preprocess: function (template, options) {
			return { type: 'Template', body: template };
		},
		print: function (ast) {
			return ast.body;
		},
	});

	var compileOptions = defineModule({
		default: function (options) {
			var opts = options || {};
			opts.plugins = { ast: [] };
			return opts;
		},
		registerPlugin: function (kind, plugin) {},
	});

	void syntax;
	void compileOptions;

	var emberConfig = { FEATURES: {}, ENV: {} };

	module.exports = {
		precompile: function (template, options) {
			return JSON.stringify({
				block: template,
				features: emberConfig.FEATURES,
				env: emberConfig.ENV,
			});
		},
		_Ember: emberConfig,
	};
})();
`

// FailingSource is Source with a precompile entry point that throws for
// any template containing the word FAIL, so tests can exercise per-file
// compilation failures.
const FailingSource = `(function () {
	function defineModule(api) {
		return Object.create(api);
	}

	var syntax = defineModule({
		preprocess: function (template, options) {
			if (template.indexOf('FAIL') !== -1) {
				throw new Error('unclosed element');
			}
			return { type: 'Template', body: template };
		},
		print: function (ast) {
			return ast.body;
		},
	});

	var compileOptions = defineModule({
		default: function (options) {
			var opts = options || {};
			opts.plugins = { ast: [] };
			return opts;
		},
		registerPlugin: function (kind, plugin) {},
	});

	void syntax;
	void compileOptions;

	module.exports = {
		precompile: function (template, options) {
			if (template.indexOf('FAIL') !== -1) {
				throw new Error('unclosed element');
			}
			return JSON.stringify({
				block: template,
				moduleName: options && options.moduleName,
			});
		},
		_Ember: { FEATURES: {}, ENV: {} },
	};
})();
`

// NoSyntaxSource executes cleanly but never constructs a syntax module,
// so extraction must reject it.
const NoSyntaxSource = `(function () {
	var compileOptions = Object.create({
		default: function (options) { return options; },
		registerPlugin: function () {},
	});
	void compileOptions;
	module.exports = {
		precompile: function (template) { return template; },
		_Ember: { FEATURES: {}, ENV: {} },
	};
})();
`

// Write stores source as a bundle file in a fresh temp dir and returns
// its path.
func Write(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mini-template-compiler.js")
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
