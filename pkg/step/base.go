package step

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ormasoftchile/steprunner/pkg/config"
	"github.com/ormasoftchile/steprunner/pkg/results"
)

// BaseConfig is what the runner hands an implementer constructor.
type BaseConfig struct {
	SubStep     *config.SubStepConfig
	Implementer string // qualified implementer name
	Defaults    map[string]any
	Environment string
	Results     *results.WorkflowResult
	WorkDir     string
	Stdout      io.Writer
	Stderr      io.Writer
	Logger      *slog.Logger
}

// Base gives an implementer its resolved configuration, the results of
// earlier sub-steps and a private working directory.
type Base struct {
	subStep     *config.SubStepConfig
	implementer string
	defaults    map[string]any
	env         string
	results     *results.WorkflowResult
	workDir     string
	stdout      io.Writer
	stderr      io.Writer
	logger      *slog.Logger
}

// NewBase builds a Base. Nil writers discard output; a nil logger discards
// records; a nil result history is empty.
func NewBase(c BaseConfig) *Base {
	b := &Base{
		subStep:     c.SubStep,
		implementer: c.Implementer,
		defaults:    c.Defaults,
		env:         c.Environment,
		results:     c.Results,
		workDir:     c.WorkDir,
		stdout:      c.Stdout,
		stderr:      c.Stderr,
		logger:      c.Logger,
	}
	if b.implementer == "" && c.SubStep != nil {
		b.implementer = QualifiedName(c.SubStep.StepName(), c.SubStep.Implementer())
	}
	if b.results == nil {
		b.results = results.NewWorkflowResult()
	}
	if b.stdout == nil {
		b.stdout = io.Discard
	}
	if b.stderr == nil {
		b.stderr = io.Discard
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b.logger = b.logger.With("step", b.StepName(), "sub_step", b.SubStepName())
	return b
}

func (b *Base) StepName() string     { return b.subStep.StepName() }
func (b *Base) SubStepName() string  { return b.subStep.Name() }
func (b *Base) Implementer() string  { return b.implementer }
func (b *Base) Environment() string  { return b.env }
func (b *Base) Stdout() io.Writer    { return b.stdout }
func (b *Base) Stderr() io.Writer    { return b.stderr }
func (b *Base) Logger() *slog.Logger { return b.logger }

// SubStep returns the sub-step configuration being run.
func (b *Base) SubStep() *config.SubStepConfig { return b.subStep }

// Results returns the results recorded before this sub-step.
func (b *Base) Results() *results.WorkflowResult { return b.results }

// Value resolves the first of keys that any layer defines. Configuration
// layers and step overrides are consulted first, then artifacts of earlier
// sub-steps, then the implementer defaults. Values always pass through the
// decryption registry. It returns nil when nothing defines any of keys.
func (b *Base) Value(keys ...string) (any, error) {
	for _, key := range keys {
		v, err := b.ConfigValue(key)
		if err != nil || v != nil {
			return v, err
		}
	}
	for _, key := range keys {
		if v := b.ResultValue(key); v != nil {
			return v, nil
		}
	}
	for _, key := range keys {
		v, err := b.subStep.ConfigValue(key, b.env, b.defaults)
		if err != nil || v != nil {
			return v, err
		}
	}
	return nil, nil
}

// StringValue is Value converted to a string. ok is false when no layer
// defines any of keys.
func (b *Base) StringValue(keys ...string) (s string, ok bool, err error) {
	v, err := b.Value(keys...)
	if err != nil || v == nil {
		return "", false, err
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

// ConfigValue resolves key from configuration and overrides only,
// ignoring earlier results and implementer defaults.
func (b *Base) ConfigValue(key string) (any, error) {
	return b.subStep.ConfigValue(key, b.env, nil)
}

// ResultValue returns the artifact named name from an earlier sub-step,
// preferring results of the current environment.
func (b *Base) ResultValue(name string) any {
	if b.env != "" {
		if v := b.results.GetArtifactValue(name, results.Environment(b.env)); v != nil {
			return v
		}
	}
	return b.results.GetArtifactValue(name)
}

// Config returns the fully resolved configuration, defaults included.
func (b *Base) Config() (map[string]any, error) {
	return b.subStep.ResolvedConfig(b.env, b.defaults)
}

// ValidateRequiredKeys checks that every required key resolves and lists
// all missing keys in one *Error.
func (b *Base) ValidateRequiredKeys(required []RequiredKey) error {
	var missing []string
	for _, key := range required {
		v, err := b.Value(key.names...)
		if err != nil {
			return err
		}
		if v == nil {
			missing = append(missing, key.String())
		}
	}
	if len(missing) > 0 {
		return Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// NewResult starts a successful result for this sub-step.
func (b *Base) NewResult() *results.StepResult {
	return results.NewStepResult(b.StepName(), b.SubStepName(), b.implementer, b.env)
}

// WorkDirPath returns <work-dir>/<step>/<sub-step>, with the environment
// appended when one is set.
func (b *Base) WorkDirPath() string {
	parts := []string{b.workDir, b.StepName(), b.SubStepName()}
	if b.env != "" {
		parts = append(parts, b.env)
	}
	return filepath.Join(parts...)
}

// redactor is implemented by output writers that hide secrets.
type redactor interface {
	Redact(s string) string
}

// WriteWorkingFile writes data to name inside WorkDirPath, creating the
// directory, and returns the file path. Secrets known to the stdout writer
// are redacted from the file.
func (b *Base) WriteWorkingFile(name string, data []byte) (string, error) {
	if r, ok := b.stdout.(redactor); ok {
		data = []byte(r.Redact(string(data)))
	}
	dir := b.WorkDirPath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write working file: %w", err)
	}
	return path, nil
}
