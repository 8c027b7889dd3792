package step

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/steprunner/pkg/config"
	"github.com/ormasoftchile/steprunner/pkg/redact"
	"github.com/ormasoftchile/steprunner/pkg/results"
)

type nopImplementer struct{ base *Base }

func (n nopImplementer) Run(context.Context) (*results.StepResult, error) {
	return n.base.NewResult(), nil
}

func nopDescriptor() Descriptor {
	return Descriptor{New: func(b *Base) (Implementer, error) { return nopImplementer{b}, nil }}
}

func TestQualifiedName(t *testing.T) {
	tests := []struct {
		step, impl, want string
	}{
		{"build", "Maven", "implementers.build.Maven"},
		{"create-container-image", "Buildah", "implementers.create_container_image.Buildah"},
		{"build", "custom.pkg.Gradle", "custom.pkg.Gradle"},
	}
	for _, tt := range tests {
		if got := QualifiedName(tt.step, tt.impl); got != tt.want {
			t.Errorf("QualifiedName(%q, %q) = %q, want %q", tt.step, tt.impl, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("Maven", nopDescriptor()); err == nil {
		t.Error("unqualified name accepted")
	}
	if err := reg.Register("implementers.build.Broken", Descriptor{}); err == nil {
		t.Error("descriptor without constructor accepted")
	}
	reg.MustRegister("implementers.build.Maven", nopDescriptor())
	if err := reg.Register("implementers.build.Maven", nopDescriptor()); err == nil {
		t.Error("duplicate registration accepted")
	}

	name, _, err := reg.Lookup("build", "Maven")
	if err != nil {
		t.Fatal(err)
	}
	if name != "implementers.build.Maven" {
		t.Errorf("Lookup name = %q", name)
	}
	if _, _, err := reg.Lookup("build", "implementers.build.Maven"); err != nil {
		t.Errorf("qualified lookup: %v", err)
	}

	_, _, err = reg.Lookup("build", "Gradle")
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) || !errors.Is(err, ErrUnknownImplementer) {
		t.Errorf("unknown implementer error = %v, want *config.Error wrapping ErrUnknownImplementer", err)
	}
	if _, _, err := reg.Lookup("build", ""); err == nil {
		t.Error("empty implementer accepted")
	}

	if got := reg.Names(); len(got) != 1 || got[0] != "implementers.build.Maven" {
		t.Errorf("Names() = %v", got)
	}
}

func TestRequiredKeyString(t *testing.T) {
	if got := Key("url").String(); got != "url" {
		t.Errorf("Key = %q", got)
	}
	if got := AnyOf("a", "b").String(); got != "one of [a, b]" {
		t.Errorf("AnyOf = %q", got)
	}
}

func newTestConfig(t *testing.T, doc map[string]any) *config.Config {
	t.Helper()
	cfg := config.New(config.NewRegistry())
	if err := cfg.Add(doc); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func deployDoc() map[string]any {
	return map[string]any{"step-runner-config": map[string]any{
		"global-defaults":             map[string]any{"timeout": 30},
		"global-environment-defaults": map[string]any{"prod": map[string]any{"timeout": 60}},
		"deploy": map[string]any{
			"implementer": "Apply",
			"config":      map[string]any{"timeout": 90},
		},
	}}
}

func TestValue_Precedence(t *testing.T) {
	cfg := newTestConfig(t, deployDoc())
	newBase := func() *Base {
		return NewBase(BaseConfig{
			SubStep:     cfg.StepConfig("deploy").SubStep("Apply"),
			Defaults:    map[string]any{"timeout": 10, "retries": 3},
			Environment: "prod",
		})
	}

	if v, err := newBase().Value("timeout"); err != nil || v != 90 {
		t.Errorf("timeout = %v, %v, want 90", v, err)
	}
	if v, _ := newBase().Value("retries"); v != 3 {
		t.Errorf("retries = %v, want implementer default 3", v)
	}

	cfg.SetStepConfigOverrides("deploy", map[string]any{"timeout": "120"})
	if s, ok, err := newBase().StringValue("timeout"); err != nil || !ok || s != "120" {
		t.Errorf("timeout with override = %q, %v, %v, want 120", s, ok, err)
	}
	if _, ok, _ := newBase().StringValue("missing"); ok {
		t.Error("missing key reported as set")
	}
}

func TestValue_ResultFallback(t *testing.T) {
	cfg := newTestConfig(t, map[string]any{"step-runner-config": map[string]any{
		"deploy": map[string]any{"implementer": "Apply", "config": map[string]any{"image": "configured:1"}},
	}})
	history := results.NewWorkflowResult()
	build := results.NewStepResult("build", "Compile", "implementers.build.Compile", "")
	build.AddArtifact("image", "built:1")
	build.AddArtifact("url", "https://global.test")
	history.AddStepResult(build)
	prod := results.NewStepResult("publish", "Push", "implementers.publish.Push", "prod")
	prod.AddArtifact("url", "https://prod.test")
	history.AddStepResult(prod)

	b := NewBase(BaseConfig{
		SubStep:     cfg.StepConfig("deploy").SubStep("Apply"),
		Defaults:    map[string]any{"url": "https://default.test", "region": "eu"},
		Environment: "prod",
		Results:     history,
	})
	tests := []struct {
		keys []string
		want any
	}{
		{[]string{"image"}, "configured:1"},
		{[]string{"url"}, "https://prod.test"},
		{[]string{"region"}, "eu"},
		// An alias found in configuration beats the first alias found in
		// results.
		{[]string{"url", "image"}, "configured:1"},
		{[]string{"absent"}, nil},
	}
	for _, tt := range tests {
		if got, err := b.Value(tt.keys...); err != nil || got != tt.want {
			t.Errorf("Value(%v) = %v, %v, want %v", tt.keys, got, err, tt.want)
		}
	}

	b = NewBase(BaseConfig{SubStep: cfg.StepConfig("deploy").SubStep("Apply"), Results: history})
	if got := b.ResultValue("url"); got != "https://global.test" {
		t.Errorf("ResultValue without environment = %v", got)
	}
}

func TestValidateRequiredKeys(t *testing.T) {
	cfg := newTestConfig(t, deployDoc())
	b := NewBase(BaseConfig{
		SubStep:  cfg.StepConfig("deploy").SubStep("Apply"),
		Defaults: map[string]any{"region": "eu"},
	})
	if err := b.ValidateRequiredKeys([]RequiredKey{Key("timeout"), Key("region"), AnyOf("timeout", "ttl")}); err != nil {
		t.Errorf("satisfied keys: %v", err)
	}

	err := b.ValidateRequiredKeys([]RequiredKey{Key("url"), Key("timeout"), AnyOf("token", "password")})
	var stepErr *Error
	if !errors.As(err, &stepErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if want := "missing required configuration: url, one of [token, password]"; err.Error() != want {
		t.Errorf("error = %q, want %q", err, want)
	}
}

func TestBase_WorkingFiles(t *testing.T) {
	cfg := newTestConfig(t, deployDoc())
	work := t.TempDir()
	b := NewBase(BaseConfig{
		SubStep:     cfg.StepConfig("deploy").SubStep("Apply"),
		Environment: "prod",
		WorkDir:     work,
	})
	if b.Implementer() != "implementers.deploy.Apply" {
		t.Errorf("Implementer() = %q", b.Implementer())
	}
	if want := filepath.Join(work, "deploy", "Apply", "prod"); b.WorkDirPath() != want {
		t.Errorf("WorkDirPath() = %q, want %q", b.WorkDirPath(), want)
	}
	path, err := b.WriteWorkingFile("out.txt", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Errorf("working file = %q, %v", data, err)
	}

	r := b.NewResult()
	if r.StepName() != "deploy" || r.SubStepName() != "Apply" || r.Environment() != "prod" || !r.Success() {
		t.Errorf("NewResult() = %v", r)
	}
}

func TestBase_WorkingFilesAreRedacted(t *testing.T) {
	cfg := newTestConfig(t, deployDoc())
	var out bytes.Buffer
	w := redact.NewWriter(&out)
	w.AddObfuscationTargets("hunter2")
	b := NewBase(BaseConfig{
		SubStep: cfg.StepConfig("deploy").SubStep("Apply"),
		WorkDir: t.TempDir(),
		Stdout:  w,
	})
	path, err := b.WriteWorkingFile("stdout.log", []byte("login hunter2\n"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "login <REDACTED>\n"; got != want {
		t.Errorf("working file = %q, want %q", got, want)
	}
}

func TestErrorWrap(t *testing.T) {
	inner := errors.New("exit 1")
	err := Wrap(inner, "run %s", "make")
	if !errors.Is(err, inner) || !strings.HasPrefix(err.Error(), "run make: ") {
		t.Errorf("Wrap = %v", err)
	}
}
