// Package runner executes the sub-steps of a configured step in order and
// records each outcome in the persisted workflow result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/ormasoftchile/steprunner/pkg/config"
	"github.com/ormasoftchile/steprunner/pkg/results"
	"github.com/ormasoftchile/steprunner/pkg/step"
)

// Keys controlling whether later sub-steps run after one fails.
const (
	KeyContinueOnFailure      = "continue-sub-steps-on-failure"
	KeyContinueOnFailureAlias = "continue-on-failure"
)

// DefaultWorkDir is where implementers get their working directories.
const DefaultWorkDir = "step-runner-working"

// Options configures a Runner.
type Options struct {
	Implementers *step.Registry
	// Store persists results after every sub-step. Nil keeps results in
	// memory only.
	Store   *results.Store
	WorkDir string
	Stdout  io.Writer // progress lines; nil discards
	Stderr  io.Writer // handed to implementers; nil discards
	Logger  *slog.Logger
}

// Runner runs steps of one configuration against one result history.
type Runner struct {
	cfg     *config.Config
	opts    Options
	results *results.WorkflowResult
	logger  *slog.Logger
}

// New returns a Runner over cfg. The result history starts from what
// Options.Store has persisted.
func New(cfg *config.Config, opts Options) (*Runner, error) {
	if opts.Implementers == nil {
		return nil, errors.New("runner: no implementer registry")
	}
	if opts.WorkDir == "" {
		opts.WorkDir = DefaultWorkDir
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	wr := results.NewWorkflowResult()
	if opts.Store != nil {
		loaded, err := opts.Store.Load()
		if err != nil {
			return nil, fmt.Errorf("load results: %w", err)
		}
		wr = loaded
	}
	return &Runner{cfg: cfg, opts: opts, results: wr, logger: logger}, nil
}

// WorkflowResult returns the accumulated history.
func (r *Runner) WorkflowResult() *results.WorkflowResult { return r.results }

type resolved struct {
	subStep *config.SubStepConfig
	name    string
	desc    step.Descriptor
}

// RunStep runs every sub-step of stepName for environment (empty for
// none) and reports whether all of them succeeded.
//
// Implementers are resolved before any sub-step runs. A sub-step that
// fails stops the step unless it sets continue-sub-steps-on-failure.
// Declared failures (*step.Error) become failed results; any other error
// from an implementer is returned as is.
func (r *Runner) RunStep(ctx context.Context, stepName, environment string) (bool, error) {
	sc := r.cfg.StepConfig(stepName)
	if sc == nil || len(sc.SubSteps()) == 0 {
		return false, config.Errorf("no configuration for step %q", stepName)
	}

	var plan []resolved
	for _, ss := range sc.SubSteps() {
		name, desc, err := r.opts.Implementers.Lookup(stepName, ss.Implementer())
		if err != nil {
			return false, err
		}
		plan = append(plan, resolved{subStep: ss, name: name, desc: desc})
	}

	log := r.logger.With("step", stepName, "environment", environment)
	fmt.Fprintf(r.opts.Stdout, "\n▶ Step: %s%s\n", stepName, envSuffix(environment))

	success := true
	for i, p := range plan {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(r.opts.Stdout, "\n▶ Sub-step %d/%d: %s [%s]\n", i+1, len(plan), p.subStep.Name(), p.name)
		log.Debug("running sub-step", "sub_step", p.subStep.Name(), "implementer", p.name)

		base := step.NewBase(step.BaseConfig{
			SubStep:     p.subStep,
			Implementer: p.name,
			Defaults:    p.desc.Defaults,
			Environment: environment,
			Results:     r.results,
			WorkDir:     r.opts.WorkDir,
			Stdout:      r.opts.Stdout,
			Stderr:      r.opts.Stderr,
			Logger:      r.logger,
		})

		result, err := r.runSubStep(ctx, base, p.desc)
		if err != nil {
			return false, err
		}

		if err := r.results.AddStepResult(result); err != nil {
			return false, err
		}
		if r.opts.Store != nil {
			if err := r.opts.Store.Persist(r.results); err != nil {
				return false, fmt.Errorf("persist results: %w", err)
			}
		}

		if result.Success() {
			fmt.Fprintf(r.opts.Stdout, "  ✓ Sub-step %q passed\n", p.subStep.Name())
			continue
		}
		success = false
		fmt.Fprintf(r.opts.Stdout, "  ✗ Sub-step %q failed: %s\n", p.subStep.Name(), result.Message())
		log.Info("sub-step failed", "sub_step", p.subStep.Name(), "message", result.Message())

		cont, err := continueOnFailure(base)
		if err != nil {
			return false, err
		}
		if !cont {
			break
		}
	}

	if success {
		fmt.Fprintf(r.opts.Stdout, "\n✓ Step %q completed successfully (%d sub-steps)\n", stepName, len(plan))
	} else {
		fmt.Fprintf(r.opts.Stdout, "\n✗ Step %q failed\n", stepName)
	}
	return success, nil
}

// runSubStep turns declared failures into failed results. Other errors
// are returned.
func (r *Runner) runSubStep(ctx context.Context, base *step.Base, desc step.Descriptor) (*results.StepResult, error) {
	failed := func(err error) (*results.StepResult, error) {
		var se *step.Error
		if !errors.As(err, &se) {
			return nil, err
		}
		result := base.NewResult()
		result.Fail(se.Error())
		return result, nil
	}

	if err := base.ValidateRequiredKeys(desc.RequiredKeys); err != nil {
		return failed(err)
	}
	impl, err := desc.New(base)
	if err != nil {
		return failed(err)
	}
	if v, ok := impl.(step.Validator); ok {
		if err := v.Validate(); err != nil {
			return failed(err)
		}
	}
	result, err := impl.Run(ctx)
	if err != nil {
		return failed(err)
	}
	if result == nil {
		return nil, fmt.Errorf("implementer %s returned no result", base.Implementer())
	}
	return result, nil
}

func continueOnFailure(base *step.Base) (bool, error) {
	v, err := base.Value(KeyContinueOnFailure, KeyContinueOnFailureAlias)
	if err != nil || v == nil {
		return false, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, config.Errorf("%s: invalid boolean %q", KeyContinueOnFailure, t)
		}
		return b, nil
	}
	return false, config.Errorf("%s: expected a boolean, got %T", KeyContinueOnFailure, v)
}

func envSuffix(environment string) string {
	if environment == "" {
		return ""
	}
	return " [" + environment + "]"
}
