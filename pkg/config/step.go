package config

import (
	"fmt"
	"slices"
	"sort"
)

// StepConfig is the ordered list of sub-steps configured for one step,
// plus runtime overrides that apply to every sub-step of it.
type StepConfig struct {
	parent    *Config
	name      string
	subSteps  []*SubStepConfig
	overrides map[string]any
}

// Name returns the step name.
func (s *StepConfig) Name() string { return s.name }

// SubSteps returns the sub-steps in declared order.
func (s *StepConfig) SubSteps() []*SubStepConfig { return slices.Clone(s.subSteps) }

// SubStep returns the named sub-step or nil.
func (s *StepConfig) SubStep(name string) *SubStepConfig {
	for _, sub := range s.subSteps {
		if sub.name == name {
			return sub
		}
	}
	return nil
}

// StepConfigOverrides returns the runtime overrides of this step.
func (s *StepConfig) StepConfigOverrides() map[string]any {
	return cloneTreeMap(s.overrides)
}

// SetStepConfigOverrides replaces the runtime overrides. Overrides are the
// highest precedence layer and may redefine any key.
func (s *StepConfig) SetStepConfigOverrides(overrides map[string]any) {
	s.overrides = LeafifyMap(overrides, overrides, []any{"step-config-overrides", s.name}, s.parent.registry)
}

// AddOrUpdateSubStep declares a sub-step or merges additional config into
// an existing one. The implementer of an existing sub-step cannot change
// and no existing leaf key may be redefined.
func (s *StepConfig) AddOrUpdateSubStep(name, implementer string, config map[string]any, envConfig map[string]map[string]any) (*SubStepConfig, error) {
	if implementer == "" {
		return nil, Errorf("step %q: sub-step %q has no implementer", s.name, name)
	}
	if name == "" {
		name = implementer
	}
	sub := s.SubStep(name)
	if sub == nil {
		sub = &SubStepConfig{
			parent:      s,
			name:        name,
			implementer: implementer,
			config:      map[string]any{},
			envConfig:   map[string]map[string]any{},
		}
		s.subSteps = append(s.subSteps, sub)
	} else if sub.implementer != implementer {
		return nil, Errorf("step %q: sub-step %q already uses implementer %q, cannot change it to %q",
			s.name, name, sub.implementer, implementer)
	}
	if err := sub.MergeConfig(config); err != nil {
		return nil, err
	}
	if err := sub.MergeEnvironmentConfig(envConfig); err != nil {
		return nil, err
	}
	return sub, nil
}

// SubStepConfig is one configured handler within a step.
type SubStepConfig struct {
	parent      *StepConfig
	name        string
	implementer string
	config      map[string]any
	envConfig   map[string]map[string]any
}

// Name returns the sub-step name.
func (s *SubStepConfig) Name() string { return s.name }

// StepName returns the name of the owning step.
func (s *SubStepConfig) StepName() string { return s.parent.name }

// Implementer returns the implementer name as declared.
func (s *SubStepConfig) Implementer() string { return s.implementer }

// Config returns the static sub-step config tree.
func (s *SubStepConfig) Config() map[string]any { return cloneTreeMap(s.config) }

// EnvironmentConfig returns the sub-step config for one environment.
func (s *SubStepConfig) EnvironmentConfig(env string) map[string]any {
	return cloneTreeMap(s.envConfig[env])
}

// Environments returns the sorted environment names with sub-step config.
func (s *SubStepConfig) Environments() []string {
	envs := make([]string, 0, len(s.envConfig))
	for env := range s.envConfig {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	return envs
}

// MergeConfig adds keys to the static config. Plain values are leafified
// as in-memory config.
func (s *SubStepConfig) MergeConfig(config map[string]any) error {
	if len(config) == 0 {
		return nil
	}
	tree := LeafifyMap(config, config, []any{s.parent.name, s.name, "config"}, s.parent.parent.registry)
	if err := mergeStrict(s.config, tree, nil); err != nil {
		return Errorf("step %q sub-step %q config: %v", s.parent.name, s.name, err)
	}
	return nil
}

// MergeEnvironmentConfig adds keys to the per-environment config.
func (s *SubStepConfig) MergeEnvironmentConfig(envConfig map[string]map[string]any) error {
	for env, config := range envConfig {
		tree := LeafifyMap(config, config, []any{s.parent.name, s.name, "environment-config", env}, s.parent.parent.registry)
		existing, ok := s.envConfig[env]
		if !ok {
			s.envConfig[env] = tree
			continue
		}
		if err := mergeStrict(existing, tree, nil); err != nil {
			return Errorf("step %q sub-step %q environment %q config: %v", s.parent.name, s.name, env, err)
		}
	}
	return nil
}

// RuntimeConfig layers, from lowest to highest precedence: defaults,
// global defaults, global environment defaults, sub-step config, sub-step
// environment config, step overrides. Leaves are still *ConfigValue.
func (s *SubStepConfig) RuntimeConfig(env string, defaults map[string]any) map[string]any {
	c := s.parent.parent
	merged := map[string]any{}
	if len(defaults) > 0 {
		mergeOverlay(merged, LeafifyMap(defaults, defaults, []any{"defaults", s.implementer}, c.registry))
	}
	mergeOverlay(merged, c.globalDefaults)
	if env != "" {
		mergeOverlay(merged, c.globalEnvDefaults[env])
	}
	mergeOverlay(merged, s.config)
	if env != "" {
		mergeOverlay(merged, s.envConfig[env])
	}
	mergeOverlay(merged, s.parent.overrides)
	return merged
}

// ConfigValue resolves key against RuntimeConfig and returns the plain,
// decrypted value, or nil when no layer defines it.
func (s *SubStepConfig) ConfigValue(key, env string, defaults map[string]any) (any, error) {
	tree, ok := s.RuntimeConfig(env, defaults)[key]
	if !ok {
		return nil, nil
	}
	value, err := ConvertLeavesToValues(tree)
	if err != nil {
		return nil, fmt.Errorf("step %q sub-step %q key %q: %w", s.parent.name, s.name, key, err)
	}
	return value, nil
}

// ResolvedConfig returns the whole RuntimeConfig with leaves resolved.
func (s *SubStepConfig) ResolvedConfig(env string, defaults map[string]any) (map[string]any, error) {
	value, err := ConvertLeavesToValues(s.RuntimeConfig(env, defaults))
	if err != nil {
		return nil, err
	}
	return value.(map[string]any), nil
}
