package shared

import (
	"context"
	"fmt"
	"sort"

	"github.com/ormasoftchile/steprunner/pkg/results"
	"github.com/ormasoftchile/steprunner/pkg/step"
)

// Configuration keys of the Artifacts implementer.
const (
	KeyArtifacts = "artifacts"
	KeyEvidence  = "evidence"
)

func artifactsDescriptor() step.Descriptor {
	return step.Descriptor{
		RequiredKeys: []step.RequiredKey{step.AnyOf(KeyArtifacts, KeyEvidence)},
		New: func(base *step.Base) (step.Implementer, error) {
			return &Artifacts{base: base}, nil
		},
	}
}

// Artifacts publishes configured values as artifacts and evidence, so
// later sub-steps and steps can read them as result values. Each entry
// is either a plain value or a map with value and description.
type Artifacts struct {
	base *step.Base
}

// Run records the artifacts and evidence maps in key order.
func (a *Artifacts) Run(ctx context.Context) (*results.StepResult, error) {
	result := a.base.NewResult()
	counts := map[string]int{}
	for _, kind := range []string{KeyArtifacts, KeyEvidence} {
		v, err := a.base.ConfigValue(kind)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		entries, ok := v.(map[string]any)
		if !ok {
			return nil, step.Errorf("%s must be a map, got %T", kind, v)
		}
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			value, description := splitEntry(entries[name])
			add := result.AddArtifact
			if kind == KeyEvidence {
				add = result.AddEvidence
			}
			if err := add(name, value, description); err != nil {
				return nil, step.Wrap(err, "%s %q", kind, name)
			}
		}
		counts[kind] = len(names)
	}
	result.SetMessage(fmt.Sprintf("published %d artifacts and %d evidence entries", counts[KeyArtifacts], counts[KeyEvidence]))
	return result, nil
}

// splitEntry accepts {value: x, description: y} as well as a bare value.
func splitEntry(v any) (any, string) {
	m, ok := v.(map[string]any)
	if !ok {
		return v, ""
	}
	value, hasValue := m[results.KeyEntryValue]
	if !hasValue {
		return v, ""
	}
	for k := range m {
		if k != results.KeyEntryValue && k != results.KeyEntryDescription {
			return v, ""
		}
	}
	description, _ := m[results.KeyEntryDescription].(string)
	return value, description
}
