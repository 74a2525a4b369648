// Package config loads the engine's recognized settings from a YAML file
// into a validated struct with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options are the engine's recognized settings.
type Options struct {
	// RecompileAllFraction is the widen-to-all-sources threshold, in
	// [0, 1]: once the invalidated sources exceed this fraction of all
	// sources, everything is recompiled in one round.
	RecompileAllFraction float64 `yaml:"recompileAllFraction"`
	// TransitiveStep is the round count after which the invalidator
	// switches to brute-force transitive closure over member references.
	TransitiveStep int `yaml:"transitiveStep"`
	// RecompileOnMacroDef invalidates every user of a class whose macro
	// definition changed, pre-empting the name-hash diff.
	RecompileOnMacroDef bool `yaml:"recompileOnMacroDef"`
	// UseOptimizedSealed restricts sealed-hierarchy propagation to
	// PatternTarget-scoped modifications.
	UseOptimizedSealed bool `yaml:"useOptimizedSealed"`
	// RelationsDebug, APIDebug, StrictMode are diagnostic/behavioral
	// toggles that the engine itself does not read. Minimization is
	// switched off by the apiDebug argument a compiler driver passes to
	// callback.Callback.API, not by this field.
	RelationsDebug bool `yaml:"relationsDebug"`
	APIDebug       bool `yaml:"apiDebug"`
	StrictMode     bool `yaml:"strictMode"`
	// APIDiffContextSize is diagnostic-only; the engine never reads it
	// itself.
	APIDiffContextSize int `yaml:"apiDiffContextSize"`
	// SkipClasspathLookup reduces library-dependency change detection to
	// stamp comparison only.
	SkipClasspathLookup bool `yaml:"skipClasspathLookup"`
}

// Default returns the engine's documented defaults.
func Default() Options {
	return Options{
		RecompileAllFraction: 0.5,
		TransitiveStep:       3,
		RecompileOnMacroDef:  true,
		UseOptimizedSealed:   true,
	}
}

// Load reads and validates Options from a YAML file, filling unset fields
// from Default().
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read options file %q: %w", path, err)
	}
	opts := Default()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("parse options file %q: %w", path, err)
	}
	return opts, opts.Validate()
}

// Validate checks that the numeric settings are within their documented
// ranges.
func (o Options) Validate() error {
	if o.RecompileAllFraction < 0 || o.RecompileAllFraction > 1 {
		return fmt.Errorf("recompileAllFraction must be in [0,1], got %v", o.RecompileAllFraction)
	}
	if o.TransitiveStep < 0 {
		return fmt.Errorf("transitiveStep must be >= 0, got %v", o.TransitiveStep)
	}
	return nil
}
