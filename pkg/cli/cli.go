// Package cli implements the steprunner command line. Binaries that ship
// their own implementers call Execute with a RegisterImplementers hook.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/steprunner/pkg/config"
	"github.com/ormasoftchile/steprunner/pkg/implementers/shared"
	"github.com/ormasoftchile/steprunner/pkg/redact"
	"github.com/ormasoftchile/steprunner/pkg/step"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitUsage         = 2
	ExitMissingConfig = 101
	ExitInvalidConfig = 102
	ExitStepFailed    = 200
	ExitUnexpected    = 300
)

// ErrStepFailed is returned when a step ran and reported failure.
var ErrStepFailed = errors.New("step failed")

// usageError is a bad flag value detected after flag parsing.
type usageError struct{ error }

func usageErrorf(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// Options customizes Execute.
type Options struct {
	Version string
	// RegisterImplementers adds implementers beyond the shared ones.
	RegisterImplementers func(reg *step.Registry) error
}

// app carries the state of one Execute call.
type app struct {
	opts   Options
	stdout *redact.Writer
	stderr *redact.Writer
	ran    bool // a command's RunE was entered; errors after this are not usage errors
}

// Execute runs the command line in args and returns the process exit code.
// stdout and stderr are wrapped so decrypted secrets never reach them.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, opts Options) (code int) {
	a := &app{
		opts:   opts,
		stdout: redact.NewWriter(stdout),
		stderr: redact.NewWriter(stderr),
	}
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(a.stderr, "panic: %v\n%s", r, debug.Stack())
			code = ExitUnexpected
		}
	}()

	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	code = a.exitCode(err)
	switch code {
	case ExitStepFailed:
	case ExitUsage:
		fmt.Fprintf(a.stderr, "Error: %v\nRun '%s --help' for usage.\n", err, root.Name())
	default:
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return code
}

func (a *app) exitCode(err error) int {
	var missing *config.MissingError
	var cfgErr *config.Error
	var usage usageError
	switch {
	case errors.As(err, &usage):
		return ExitUsage
	case errors.As(err, &missing):
		return ExitMissingConfig
	case errors.As(err, &cfgErr):
		return ExitInvalidConfig
	case errors.Is(err, ErrStepFailed):
		return ExitStepFailed
	case !a.ran:
		return ExitUsage
	}
	return ExitUnexpected
}

// command marks the app as running before delegating to fn.
func (a *app) command(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a.ran = true
		return fn(cmd, args)
	}
}

func (a *app) implementers() (*step.Registry, error) {
	reg := step.NewRegistry()
	if err := shared.Register(reg, nil); err != nil {
		return nil, err
	}
	if a.opts.RegisterImplementers != nil {
		if err := a.opts.RegisterImplementers(reg); err != nil {
			return nil, fmt.Errorf("register implementers: %w", err)
		}
	}
	return reg, nil
}

func (a *app) logger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, usageErrorf("invalid --log-level %q", level)
	}
	return slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func (a *app) newRootCmd() *cobra.Command {
	f := &runFlags{}
	root := &cobra.Command{
		Use:           "steprunner",
		Short:         "Configuration-driven pipeline step runner",
		Long:          "steprunner resolves the layered configuration of a pipeline step, runs its sub-steps in order and appends their results to a shared results directory.",
		Version:       a.version(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE:          a.command(func(cmd *cobra.Command, _ []string) error { return a.runStep(cmd.Context(), f) }),
	}
	f.register(root)

	root.AddCommand(a.newValidateCmd())
	root.AddCommand(a.newSchemaCmd())
	root.AddCommand(a.newResultsCmd())
	root.AddCommand(a.newImplementersCmd())
	root.AddCommand(a.newEncryptCmd())
	root.AddCommand(a.newVersionCmd())
	return root
}

func (a *app) version() string {
	if a.opts.Version == "" {
		return "dev"
	}
	return a.opts.Version
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "steprunner %s\n", a.version())
		},
	}
}

// parseStepConfig turns repeated key=value flags into overrides. Values
// stay strings.
func parseStepConfig(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, usageErrorf("invalid --step-config %q, want key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
