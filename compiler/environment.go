package compiler

import (
	"fmt"

	"github.com/Turbo87/embroider/bundle"
)

// EnvironmentConfig is the host-supplied feature/environment
// configuration. The FEATURES key holds the feature-flag table; every
// other top-level key belongs to the environment table. Keys are copied
// as-is without validation: the bundle is the authority on what they
// mean.
type EnvironmentConfig map[string]any

const featuresKey = "FEATURES"

// initializeEnvironment merges cfg into the extracted compiler's global
// configuration. This mutates shared state inside the bundle and must
// run before any compilation: feature flags read during preprocessing
// are not expected to change mid-pipeline. A nil cfg is a no-op.
func initializeEnvironment(ec *bundle.ExtractedCompiler, cfg EnvironmentConfig) error {
	if cfg == nil {
		return nil
	}
	if features, ok := cfg[featuresKey].(map[string]any); ok {
		for name, value := range features {
			if err := ec.SetFeature(name, value); err != nil {
				return fmt.Errorf("setting feature %s: %w", name, err)
			}
		}
	}
	for key, value := range cfg {
		if key == featuresKey {
			continue
		}
		if err := ec.SetEnv(key, value); err != nil {
			return fmt.Errorf("setting env %s: %w", key, err)
		}
	}
	return nil
}
