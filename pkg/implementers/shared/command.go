package shared

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ormasoftchile/steprunner/pkg/results"
	"github.com/ormasoftchile/steprunner/pkg/step"
)

// Configuration keys of the Command implementer.
const (
	KeyCommand          = "command"
	KeyEnv              = "env"
	KeySuccessCondition = "success-condition"
	KeyTimeout          = "timeout"
)

// Names of what Command records.
const (
	ArtifactStdoutPath = "stdout-path"
	ArtifactStderrPath = "stderr-path"
	EvidenceExitCode   = "exit-code"
	EvidenceDuration   = "duration"
)

// DefaultSuccessCondition accepts a zero exit status.
const DefaultSuccessCondition = "exit_code == 0"

func commandDescriptor(executor Executor) step.Descriptor {
	return step.Descriptor{
		Defaults: map[string]any{
			KeySuccessCondition: DefaultSuccessCondition,
		},
		RequiredKeys: []step.RequiredKey{step.Key(KeyCommand)},
		New: func(base *step.Base) (step.Implementer, error) {
			return &Command{base: base, executor: executor}, nil
		},
	}
}

// Command runs an external program in the sub-step working directory and
// decides success with an expression over its exit code and output.
type Command struct {
	base     *step.Base
	executor Executor

	argv      []string
	env       []string
	condition string
	program   *vm.Program
	timeout   time.Duration
}

// conditionEnv is the environment success conditions are compiled
// against.
func conditionEnv(exitCode int, stdout, stderr string) map[string]any {
	return map[string]any{
		"exit_code": exitCode,
		"stdout":    stdout,
		"stderr":    stderr,
	}
}

// Validate resolves the command line and compiles the success condition.
func (c *Command) Validate() error {
	raw, err := c.base.Value(KeyCommand)
	if err != nil {
		return err
	}
	argv, err := stringList(raw)
	if err != nil || len(argv) == 0 || argv[0] == "" {
		return step.Errorf("%s must be a non-empty list of strings", KeyCommand)
	}
	c.argv = argv

	envValue, err := c.base.Value(KeyEnv)
	if err != nil {
		return err
	}
	if envValue != nil {
		m, ok := envValue.(map[string]any)
		if !ok {
			return step.Errorf("%s must be a map, got %T", KeyEnv, envValue)
		}
		c.env = os.Environ()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c.env = append(c.env, fmt.Sprintf("%s=%v", k, m[k]))
		}
	}

	timeout, err := c.base.Value(KeyTimeout)
	if err != nil {
		return err
	}
	if timeout != nil {
		d, err := parseTimeout(timeout)
		if err != nil {
			return step.Errorf("%s: %v", KeyTimeout, err)
		}
		c.timeout = d
	}

	condition, _, err := c.base.StringValue(KeySuccessCondition)
	if err != nil {
		return err
	}
	program, err := expr.Compile(condition, expr.Env(conditionEnv(0, "", "")), expr.AsBool())
	if err != nil {
		return step.Wrap(err, "compile %s %q", KeySuccessCondition, condition)
	}
	c.condition = condition
	c.program = program
	return nil
}

// Run executes the command and records its output files, exit code and
// duration.
func (c *Command) Run(ctx context.Context) (*results.StepResult, error) {
	if c.program == nil {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	dir := c.base.WorkDirPath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.base.Logger().Debug("executing command", "command", c.argv[0], "args", len(c.argv)-1, "dir", dir)
	res, err := c.executor.Execute(ctx, Invocation{Name: c.argv[0], Args: c.argv[1:], Env: c.env, Dir: dir})
	if err != nil {
		return nil, step.Wrap(err, "run %s", c.argv[0])
	}
	c.base.Stdout().Write(res.Stdout)
	c.base.Stderr().Write(res.Stderr)

	result := c.base.NewResult()
	stdoutPath, err := c.base.WriteWorkingFile("stdout.log", res.Stdout)
	if err != nil {
		return nil, err
	}
	stderrPath, err := c.base.WriteWorkingFile("stderr.log", res.Stderr)
	if err != nil {
		return nil, err
	}
	if err := result.AddArtifact(ArtifactStdoutPath, stdoutPath, "captured standard output"); err != nil {
		return nil, err
	}
	if err := result.AddArtifact(ArtifactStderrPath, stderrPath, "captured standard error"); err != nil {
		return nil, err
	}
	if err := result.AddEvidence(EvidenceExitCode, res.ExitCode, "process exit status"); err != nil {
		return nil, err
	}
	if err := result.AddEvidence(EvidenceDuration, res.Duration.String()); err != nil {
		return nil, err
	}

	ok, err := c.evaluate(res)
	if err != nil {
		return nil, step.Wrap(err, "evaluate %s %q", KeySuccessCondition, c.condition)
	}
	if ok {
		result.SetMessage(fmt.Sprintf("%s exited with code %d", c.argv[0], res.ExitCode))
	} else {
		result.Fail(fmt.Sprintf("%s exited with code %d; %s %q not met", c.argv[0], res.ExitCode, KeySuccessCondition, c.condition))
	}
	return result, nil
}

func (c *Command) evaluate(res *CommandResult) (bool, error) {
	output, err := expr.Run(c.program, conditionEnv(res.ExitCode, string(res.Stdout), string(res.Stderr)))
	if err != nil {
		return false, err
	}
	b, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", output)
	}
	return b, nil
}

// parseTimeout accepts a duration string or a number of seconds.
func parseTimeout(v any) (time.Duration, error) {
	var d time.Duration
	switch t := v.(type) {
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", t)
		}
		d = parsed
	case int:
		d = time.Duration(t) * time.Second
	case int64:
		d = time.Duration(t) * time.Second
	case uint64:
		d = time.Duration(t) * time.Second
	case float64:
		d = time.Duration(t * float64(time.Second))
	default:
		return 0, fmt.Errorf("invalid duration %v (%T)", v, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid duration %v", v)
	}
	return d, nil
}

func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case int, int64, float64, bool:
				out = append(out, fmt.Sprint(s))
			default:
				return nil, fmt.Errorf("unsupported argument type %T", item)
			}
		}
		return out, nil
	case []string:
		return t, nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}
