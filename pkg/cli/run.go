package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/steprunner/pkg/config"
	"github.com/ormasoftchile/steprunner/pkg/config/decryptors"
	"github.com/ormasoftchile/steprunner/pkg/results"
	"github.com/ormasoftchile/steprunner/pkg/runner"
)

type runFlags struct {
	step        string
	configs     []string
	environment string
	resultsDir  string
	workDir     string
	stepConfig  []string
	logLevel    string
}

func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.step, "step", "s", "", "Name of the step to run (required)")
	flags.StringArrayVarP(&f.configs, "config", "c", nil, "Configuration file or directory, repeatable (required)")
	flags.StringVarP(&f.environment, "environment", "e", "", "Environment to resolve environment-config for")
	flags.StringVar(&f.resultsDir, "results-dir", results.DefaultResultsDir, "Directory of the accumulated step results")
	flags.StringVar(&f.workDir, "work-dir", runner.DefaultWorkDir, "Root of the sub-step working directories")
	flags.StringArrayVar(&f.stepConfig, "step-config", nil, "Override a step configuration key (key=value), repeatable")
	flags.StringVar(&f.logLevel, "log-level", "info", "Diagnostic log level: debug, info, warn, error")
	cmd.MarkFlagRequired("step")
	cmd.MarkFlagRequired("config")
}

// loadConfig builds the decryption registry, feeds it the output writers
// as obfuscation sinks and loads every configuration source.
func (a *app) loadConfig(paths []string) (*config.Config, error) {
	reg := decryptors.NewRegistry()
	reg.AddObfuscationSink(a.stdout)
	reg.AddObfuscationSink(a.stderr)

	cfg := config.New(reg)
	for _, p := range paths {
		if err := cfg.Add(p); err != nil {
			return nil, err
		}
	}
	decryptors.RegisterDefaults(reg)
	return cfg, nil
}

func (a *app) runStep(ctx context.Context, f *runFlags) error {
	logger, err := a.logger(f.logLevel)
	if err != nil {
		return err
	}
	overrides, err := parseStepConfig(f.stepConfig)
	if err != nil {
		return err
	}
	cfg, err := a.loadConfig(f.configs)
	if err != nil {
		return err
	}
	if len(overrides) > 0 {
		cfg.SetStepConfigOverrides(f.step, overrides)
	}
	impls, err := a.implementers()
	if err != nil {
		return err
	}

	r, err := runner.New(cfg, runner.Options{
		Implementers: impls,
		Store:        results.NewStore(f.resultsDir),
		WorkDir:      f.workDir,
		Stdout:       a.stdout,
		Stderr:       a.stderr,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	logger.Debug("running step", "step", f.step, "environment", f.environment, "configs", len(f.configs))
	ok, err := r.RunStep(ctx, f.step, f.environment)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrStepFailed, f.step)
	}
	return nil
}
