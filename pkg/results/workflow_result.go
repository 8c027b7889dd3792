package results

import (
	"errors"
	"fmt"
	"slices"
)

// ErrDuplicateResult is returned when a result for the same step,
// sub-step and environment is already recorded.
var ErrDuplicateResult = errors.New("duplicate step result")

// WorkflowResult is the append-only history of step results of a run.
type WorkflowResult struct {
	results []*StepResult
}

// NewWorkflowResult returns an empty history.
func NewWorkflowResult() *WorkflowResult {
	return &WorkflowResult{}
}

// StepResults returns the recorded results in order.
func (w *WorkflowResult) StepResults() []*StepResult {
	return slices.Clone(w.results)
}

// Len returns the number of recorded results.
func (w *WorkflowResult) Len() int { return len(w.results) }

// AddStepResult appends r. Recording a second result for the same step,
// sub-step and environment is an error, even if it is the same record.
func (w *WorkflowResult) AddStepResult(r *StepResult) error {
	if r == nil {
		return errors.New("step result must not be nil")
	}
	if existing := w.find(r.key()); existing != nil {
		return fmt.Errorf("%w: %s already recorded", ErrDuplicateResult, r.key())
	}
	w.results = append(w.results, r)
	return nil
}

// GetStepResult returns the result of a sub-step for an environment
// (empty for none), or nil.
func (w *WorkflowResult) GetStepResult(stepName, subStepName, environment string) *StepResult {
	return w.find(resultKey{step: stepName, subStep: subStepName, environment: environment})
}

func (w *WorkflowResult) find(k resultKey) *StepResult {
	for _, r := range w.results {
		if r.key() == k {
			return r
		}
	}
	return nil
}

// Filter narrows an artifact or evidence lookup.
type Filter func(*filter)

type filter struct {
	step, subStep, environment       string
	byStep, bySubStep, byEnvironment bool
}

// StepName restricts a lookup to results of one step.
func StepName(name string) Filter {
	return func(f *filter) { f.step, f.byStep = name, true }
}

// SubStepName restricts a lookup to results of one sub-step.
func SubStepName(name string) Filter {
	return func(f *filter) { f.subStep, f.bySubStep = name, true }
}

// Environment restricts a lookup to results of one environment. An empty
// name matches only results recorded without an environment.
func Environment(name string) Filter {
	return func(f *filter) { f.environment, f.byEnvironment = name, true }
}

func (f *filter) matches(r *StepResult) bool {
	if f.byStep && r.stepName != f.step {
		return false
	}
	if f.bySubStep && r.subStepName != f.subStep {
		return false
	}
	if f.byEnvironment && r.environment != f.environment {
		return false
	}
	return true
}

func newFilter(filters []Filter) *filter {
	f := &filter{}
	for _, opt := range filters {
		opt(f)
	}
	return f
}

// GetArtifactValue returns the value of the first artifact named name in
// the results matching filters, or nil. Absence is not an error: callers
// use this as an optional fallback.
func (w *WorkflowResult) GetArtifactValue(name string, filters ...Filter) any {
	f := newFilter(filters)
	for _, r := range w.results {
		if !f.matches(r) {
			continue
		}
		if e, ok := r.Artifact(name); ok {
			return e.Value
		}
	}
	return nil
}

// GetEvidenceValue is GetArtifactValue for evidence.
func (w *WorkflowResult) GetEvidenceValue(name string, filters ...Filter) any {
	f := newFilter(filters)
	for _, r := range w.results {
		if !f.matches(r) {
			continue
		}
		if e, ok := r.EvidenceEntry(name); ok {
			return e.Value
		}
	}
	return nil
}

// Merge appends the results of other that w does not have yet. A result
// already present with the same ID is skipped, so merging a history into
// itself changes nothing; a result for the same step, sub-step and
// environment with a different ID comes from a distinct run and is an
// error.
func (w *WorkflowResult) Merge(other *WorkflowResult) error {
	if other == nil || other == w {
		return nil
	}
	for _, r := range other.results {
		existing := w.find(r.key())
		if existing == nil {
			w.results = append(w.results, r)
			continue
		}
		if existing.id != r.id {
			return fmt.Errorf("%w: %s recorded by two different runs", ErrDuplicateResult, r.key())
		}
	}
	return nil
}

// StepRunnerResultsDict renders every result under step-runner-results,
// nested as in StepResult.StepResultDict.
func (w *WorkflowResult) StepRunnerResultsDict() map[string]any {
	merged := map[string]any{}
	for _, r := range w.results {
		mergeDict(merged, r.StepResultDict())
	}
	return map[string]any{KeyStepRunnerResults: merged}
}

func mergeDict(dst, src map[string]any) {
	for k, v := range src {
		dstMap, dstOK := dst[k].(map[string]any)
		srcMap, srcOK := v.(map[string]any)
		if dstOK && srcOK {
			mergeDict(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}
