// Package config implements the layered step-runner configuration: loading
// and validating YAML/JSON documents, the step and sub-step model with its
// strict merge rules, and the ConfigValue wrapper that routes every leaf
// read through the decryption registry.
package config

import (
	"fmt"
	"slices"
)

// Top-level and step-runner-config keys of a configuration document.
const (
	KeyStepRunnerConfig          = "step-runner-config"
	KeyConfigDecryptors          = "config-decryptors"
	KeyGlobalDefaults            = "global-defaults"
	KeyGlobalEnvironmentDefaults = "global-environment-defaults"
	KeyName                      = "name"
	KeyImplementer               = "implementer"
	KeyConfig                    = "config"
	KeyEnvironmentConfig         = "environment-config"
)

// Config is the merged configuration of every document added to it.
type Config struct {
	registry          *Registry
	globalDefaults    map[string]any
	globalEnvDefaults map[string]map[string]any
	steps             map[string]*StepConfig
	stepOrder         []string
	loaded            map[string]string
}

// New returns an empty Config whose values decrypt through registry. A nil
// registry is replaced by an empty one.
func New(registry *Registry) *Config {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Config{
		registry:          registry,
		globalDefaults:    map[string]any{},
		globalEnvDefaults: map[string]map[string]any{},
		steps:             map[string]*StepConfig{},
		loaded:            map[string]string{},
	}
}

// Registry returns the decryption registry values are read through.
func (c *Config) Registry() *Registry { return c.registry }

// Add loads configuration sources in order. A source is a file or
// directory path, a map[string]any document, or a list of sources.
func (c *Config) Add(sources ...any) error {
	for _, src := range sources {
		switch s := src.(type) {
		case string:
			if err := c.AddPath(s); err != nil {
				return err
			}
		case map[string]any:
			if err := c.AddDocument(s, s); err != nil {
				return err
			}
		case []string:
			for _, p := range s {
				if err := c.AddPath(p); err != nil {
					return err
				}
			}
		case []any:
			if err := c.Add(s...); err != nil {
				return err
			}
		default:
			return Errorf("unsupported configuration source type %T", src)
		}
	}
	return nil
}

// StepConfig returns the configuration of a step, or nil if no document
// declares it.
func (c *Config) StepConfig(name string) *StepConfig {
	return c.steps[name]
}

// StepNames returns the step names in the order they were first declared.
func (c *Config) StepNames() []string {
	return slices.Clone(c.stepOrder)
}

// GlobalDefaults returns the global-defaults tree.
func (c *Config) GlobalDefaults() map[string]any {
	return cloneTreeMap(c.globalDefaults)
}

// GlobalEnvironmentDefaults returns the global defaults of one environment.
func (c *Config) GlobalEnvironmentDefaults(env string) map[string]any {
	return cloneTreeMap(c.globalEnvDefaults[env])
}

// SetStepConfigOverrides sets runtime overrides for a step, declaring the
// step if no document did.
func (c *Config) SetStepConfigOverrides(step string, overrides map[string]any) {
	c.stepConfig(step).SetStepConfigOverrides(overrides)
}

func (c *Config) stepConfig(name string) *StepConfig {
	if s, ok := c.steps[name]; ok {
		return s
	}
	s := &StepConfig{parent: c, name: name, overrides: map[string]any{}}
	c.steps[name] = s
	c.stepOrder = append(c.stepOrder, name)
	return s
}

func (c *Config) mergeGlobalDefaults(tree map[string]any, source string) error {
	if err := mergeStrict(c.globalDefaults, tree, []string{KeyGlobalDefaults}); err != nil {
		return &Error{Source: source, Message: "merge global defaults", Err: err}
	}
	return nil
}

func (c *Config) mergeGlobalEnvironmentDefaults(env string, tree map[string]any, source string) error {
	existing, ok := c.globalEnvDefaults[env]
	if !ok {
		c.globalEnvDefaults[env] = tree
		return nil
	}
	if err := mergeStrict(existing, tree, []string{KeyGlobalEnvironmentDefaults, env}); err != nil {
		return &Error{Source: source, Message: fmt.Sprintf("merge global defaults of environment %q", env), Err: err}
	}
	return nil
}
