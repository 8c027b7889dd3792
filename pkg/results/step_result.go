// Package results implements the outcome records of sub-step runs and the
// append-only workflow result that accumulates them across invocations.
package results

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/google/uuid"
)

// Keys of the rendered result documents.
const (
	KeyStepRunnerResults      = "step-runner-results"
	KeySubStepImplementerName = "sub-step-implementer-name"
	KeySuccess                = "success"
	KeyMessage                = "message"
	KeyArtifacts              = "artifacts"
	KeyEvidence               = "evidence"
	KeyEntryName              = "name"
	KeyEntryValue             = "value"
	KeyEntryDescription       = "description"
)

// ErrInvalidEntry is returned when an artifact or evidence entry has an
// empty name or an empty value.
var ErrInvalidEntry = errors.New("invalid result entry")

// Entry is one named artifact or evidence value.
type Entry struct {
	Name        string
	Value       any
	Description string
}

// StepResult is the outcome of one sub-step run. It starts out successful
// with no message; the implementer that produced it fills it in.
type StepResult struct {
	id          string
	stepName    string
	subStepName string
	implementer string
	environment string
	success     bool
	message     string
	artifacts   []Entry
	evidence    []Entry
}

// NewStepResult starts a result for one sub-step. environment may be
// empty.
func NewStepResult(stepName, subStepName, implementer, environment string) *StepResult {
	return &StepResult{
		id:          uuid.NewString(),
		stepName:    stepName,
		subStepName: subStepName,
		implementer: implementer,
		environment: environment,
		success:     true,
	}
}

// ID identifies this record. Two records with the same step, sub-step and
// environment but different IDs come from distinct runs.
func (r *StepResult) ID() string { return r.id }

func (r *StepResult) StepName() string               { return r.stepName }
func (r *StepResult) SubStepName() string            { return r.subStepName }
func (r *StepResult) SubStepImplementerName() string { return r.implementer }
func (r *StepResult) Environment() string            { return r.environment }
func (r *StepResult) Success() bool                  { return r.success }
func (r *StepResult) Message() string                { return r.message }

// SetSuccess records whether the sub-step succeeded.
func (r *StepResult) SetSuccess(success bool) { r.success = success }

// SetMessage sets the human readable outcome message.
func (r *StepResult) SetMessage(message string) { r.message = message }

// Fail marks the result failed with message.
func (r *StepResult) Fail(message string) {
	r.success = false
	r.message = message
}

// Artifacts returns the artifacts in insertion order.
func (r *StepResult) Artifacts() []Entry { return slices.Clone(r.artifacts) }

// Evidence returns the evidence in insertion order.
func (r *StepResult) Evidence() []Entry { return slices.Clone(r.evidence) }

// AddArtifact adds or replaces a named artifact. The name must not be
// empty; the value must not be nil or an empty string/collection. false
// and 0 are valid values.
func (r *StepResult) AddArtifact(name string, value any, description ...string) error {
	entries, err := addEntry(r.artifacts, "artifact", name, value, description)
	if err != nil {
		return err
	}
	r.artifacts = entries
	return nil
}

// AddEvidence is AddArtifact for the evidence namespace.
func (r *StepResult) AddEvidence(name string, value any, description ...string) error {
	entries, err := addEntry(r.evidence, "evidence", name, value, description)
	if err != nil {
		return err
	}
	r.evidence = entries
	return nil
}

// Artifact returns the named artifact.
func (r *StepResult) Artifact(name string) (Entry, bool) { return findEntry(r.artifacts, name) }

// EvidenceEntry returns the named evidence.
func (r *StepResult) EvidenceEntry(name string) (Entry, bool) { return findEntry(r.evidence, name) }

// ArtifactValue returns the value of the named artifact, or nil.
func (r *StepResult) ArtifactValue(name string) any {
	e, _ := findEntry(r.artifacts, name)
	return e.Value
}

// EvidenceValue returns the value of the named evidence, or nil.
func (r *StepResult) EvidenceValue(name string) any {
	e, _ := findEntry(r.evidence, name)
	return e.Value
}

// StepResultDict renders the result nested as
// [environment →] step → sub-step → fields.
func (r *StepResult) StepResultDict() map[string]any {
	fields := map[string]any{
		KeySubStepImplementerName: r.implementer,
		KeySuccess:                r.success,
		KeyMessage:                r.message,
		KeyArtifacts:              entriesList(r.artifacts),
		KeyEvidence:               entriesList(r.evidence),
	}
	dict := map[string]any{
		r.stepName: map[string]any{
			r.subStepName: fields,
		},
	}
	if r.environment != "" {
		dict = map[string]any{r.environment: dict}
	}
	return dict
}

func (r *StepResult) key() resultKey {
	return resultKey{step: r.stepName, subStep: r.subStepName, environment: r.environment}
}

func (r *StepResult) String() string {
	return fmt.Sprintf("StepResult(%s)", r.key())
}

type resultKey struct {
	step, subStep, environment string
}

func (k resultKey) String() string {
	if k.environment == "" {
		return fmt.Sprintf("step=%q sub-step=%q", k.step, k.subStep)
	}
	return fmt.Sprintf("step=%q sub-step=%q environment=%q", k.step, k.subStep, k.environment)
}

func addEntry(entries []Entry, kind, name string, value any, description []string) ([]Entry, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: %s name must not be empty", ErrInvalidEntry, kind)
	}
	if isEmptyValue(value) {
		return nil, fmt.Errorf("%w: %s %q value must not be empty", ErrInvalidEntry, kind, name)
	}
	entry := Entry{Name: name, Value: value}
	if len(description) > 0 {
		entry.Description = description[0]
	}
	for i := range entries {
		if entries[i].Name == name {
			entries[i] = entry
			return entries, nil
		}
	}
	return append(entries, entry), nil
}

func findEntry(entries []Entry, name string) (Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

func isEmptyValue(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func entriesList(entries []Entry) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			KeyEntryName:        e.Name,
			KeyEntryValue:       e.Value,
			KeyEntryDescription: e.Description,
		})
	}
	return out
}
