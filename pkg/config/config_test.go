package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func value(t *testing.T, sub *SubStepConfig, key, env string, defaults map[string]any) any {
	t.Helper()
	v, err := sub.ConfigValue(key, env, defaults)
	if err != nil {
		t.Fatalf("ConfigValue(%q): %v", key, err)
	}
	return v
}

func TestAddFile_SingleAndListDeclarations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
step-runner-config:
  global-defaults:
    organization: acme
  build:
    - name: compile
      implementer: Maven
      config:
        goals: [clean, install]
    - implementer: Package
  deploy:
    implementer: Helm
    environment-config:
      prod:
        replicas: 3
`)
	cfg := New(nil)
	if err := cfg.Add(path); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if got := cfg.StepNames(); len(got) != 2 || got[0] != "build" || got[1] != "deploy" {
		t.Errorf("StepNames() = %v, want [build deploy]", got)
	}
	subs := cfg.StepConfig("build").SubSteps()
	if len(subs) != 2 {
		t.Fatalf("build sub-steps = %d, want 2", len(subs))
	}
	if subs[0].Name() != "compile" || subs[0].Implementer() != "Maven" {
		t.Errorf("first sub-step = %s/%s, want compile/Maven", subs[0].Name(), subs[0].Implementer())
	}
	if subs[1].Name() != "Package" {
		t.Errorf("unnamed sub-step name = %q, want implementer name", subs[1].Name())
	}
	if got := value(t, subs[0], "organization", "", nil); got != "acme" {
		t.Errorf("organization = %v, want acme", got)
	}
	goals, ok := value(t, subs[0], "goals", "", nil).([]any)
	if !ok || len(goals) != 2 || goals[1] != "install" {
		t.Errorf("goals = %v, want [clean install]", goals)
	}

	helm := cfg.StepConfig("deploy").SubStep("Helm")
	if got := value(t, helm, "replicas", "prod", nil); got != 3 {
		t.Errorf("replicas in prod = %v, want 3", got)
	}
	if got := value(t, helm, "replicas", "dev", nil); got != nil {
		t.Errorf("replicas in dev = %v, want nil", got)
	}
	if got := helm.Environments(); len(got) != 1 || got[0] != "prod" {
		t.Errorf("Environments() = %v, want [prod]", got)
	}
}

// Layering: defaults < global defaults < global env defaults < sub-step
// config < sub-step env config < overrides.
func TestRuntimeConfig_Precedence(t *testing.T) {
	cfg := New(nil)
	err := cfg.Add(map[string]any{
		"step-runner-config": map[string]any{
			"global-defaults": map[string]any{"a": "global", "b": "global", "c": "global", "d": "global"},
			"global-environment-defaults": map[string]any{
				"prod": map[string]any{"b": "global-env", "c": "global-env", "d": "global-env"},
			},
			"deploy": map[string]any{
				"implementer": "Helm",
				"config":      map[string]any{"c": "sub-step", "d": "sub-step"},
				"environment-config": map[string]any{
					"prod": map[string]any{"d": "sub-step-env"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	sub := cfg.StepConfig("deploy").SubStep("Helm")
	defaults := map[string]any{"a": "default", "z": "default"}

	tests := []struct {
		key, env string
		want     any
	}{
		{"z", "prod", "default"},
		{"a", "prod", "global"},
		{"b", "prod", "global-env"},
		{"b", "", "global"},
		{"c", "prod", "sub-step"},
		{"d", "prod", "sub-step-env"},
		{"d", "dev", "sub-step"},
	}
	for _, tt := range tests {
		if got := value(t, sub, tt.key, tt.env, defaults); got != tt.want {
			t.Errorf("%s in %q = %v, want %v", tt.key, tt.env, got, tt.want)
		}
	}

	cfg.SetStepConfigOverrides("deploy", map[string]any{"d": "override"})
	if got := value(t, sub, "d", "prod", defaults); got != "override" {
		t.Errorf("d with override = %v, want override", got)
	}
}

func TestRuntimeConfig_NestedMapsMerge(t *testing.T) {
	cfg := New(nil)
	err := cfg.Add(map[string]any{
		"step-runner-config": map[string]any{
			"global-defaults": map[string]any{"registry": map[string]any{"host": "global", "port": 443}},
			"push": map[string]any{
				"implementer": "Push",
				"config":      map[string]any{"registry": map[string]any{"host": "local"}},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	reg, ok := value(t, cfg.StepConfig("push").SubStep("Push"), "registry", "", nil).(map[string]any)
	if !ok {
		t.Fatal("registry is not a map")
	}
	if reg["host"] != "local" || reg["port"] != 443 {
		t.Errorf("registry = %v, want host=local port=443", reg)
	}
}

func TestMerge_AdditiveCommutes(t *testing.T) {
	docA := map[string]any{"step-runner-config": map[string]any{
		"build": map[string]any{"implementer": "Maven", "config": map[string]any{"a": 1}},
	}}
	docB := map[string]any{"step-runner-config": map[string]any{
		"build": map[string]any{"implementer": "Maven", "config": map[string]any{"b": 2}},
	}}
	for _, order := range [][]map[string]any{{docA, docB}, {docB, docA}} {
		cfg := New(nil)
		for _, doc := range order {
			if err := cfg.AddDocument(doc, doc); err != nil {
				t.Fatalf("AddDocument: %v", err)
			}
		}
		got, err := cfg.StepConfig("build").SubStep("Maven").ResolvedConfig("", nil)
		if err != nil {
			t.Fatal(err)
		}
		if got["a"] != 1 || got["b"] != 2 {
			t.Errorf("merged config = %v, want a=1 b=2", got)
		}
	}
}

func TestMerge_ConflictRaisesInEitherOrder(t *testing.T) {
	docA := map[string]any{"step-runner-config": map[string]any{
		"build": map[string]any{"implementer": "Maven", "config": map[string]any{"nested": map[string]any{"a": 1}}},
	}}
	docB := map[string]any{"step-runner-config": map[string]any{
		"build": map[string]any{"implementer": "Maven", "config": map[string]any{"nested": map[string]any{"a": 2}}},
	}}
	for _, order := range [][]map[string]any{{docA, docB}, {docB, docA}} {
		cfg := New(nil)
		if err := cfg.AddDocument(order[0], order[0]); err != nil {
			t.Fatal(err)
		}
		err := cfg.AddDocument(order[1], order[1])
		var cfgErr *Error
		if !errors.As(err, &cfgErr) {
			t.Fatalf("second AddDocument error = %v, want *Error", err)
		}
		if !strings.Contains(err.Error(), `"nested.a"`) {
			t.Errorf("error %q does not name the conflicting key", err)
		}
	}
}

func TestMerge_GlobalDefaultsConflict(t *testing.T) {
	doc := func(v string) map[string]any {
		return map[string]any{"step-runner-config": map[string]any{
			"global-defaults": map[string]any{"org": v},
		}}
	}
	cfg := New(nil)
	if err := cfg.Add(doc("a")); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Add(doc("b")); err == nil {
		t.Error("expected duplicate global default to raise")
	}
}

func TestAddOrUpdateSubStep_ImplementerImmutable(t *testing.T) {
	cfg := New(nil)
	if err := cfg.Add(map[string]any{"step-runner-config": map[string]any{
		"build": map[string]any{"name": "compile", "implementer": "Maven"},
	}}); err != nil {
		t.Fatal(err)
	}
	_, err := cfg.StepConfig("build").AddOrUpdateSubStep("compile", "Gradle", nil, nil)
	if err == nil {
		t.Fatal("expected changing the implementer to raise")
	}
	if _, err := cfg.StepConfig("build").AddOrUpdateSubStep("compile", "Maven", map[string]any{"x": 1}, nil); err != nil {
		t.Errorf("same implementer should merge: %v", err)
	}
	if _, err := cfg.StepConfig("build").AddOrUpdateSubStep("x", "", nil, nil); err == nil {
		t.Error("expected empty implementer to raise")
	}
}

func TestAddPath_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yml", "step-runner-config:\n  build:\n    implementer: Maven\n    config:\n      a: 1\n")
	writeFile(t, dir, "nested/b.json", `{"step-runner-config": {"build": {"implementer": "Maven", "config": {"b": 2}}}}`)
	writeFile(t, dir, "README.md", "ignored")

	cfg := New(nil)
	if err := cfg.Add(dir); err != nil {
		t.Fatalf("Add(dir): %v", err)
	}
	got, err := cfg.StepConfig("build").SubStep("Maven").ResolvedConfig("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got["a"] != 1 || got["b"] != 2 {
		t.Errorf("config = %v, want a=1 b=2", got)
	}
}

func TestParse_JSONWithComments(t *testing.T) {
	doc, err := Parse([]byte(`{"step-runner-config": {"build": {"implementer": "Maven"}}}
// trailing comment
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	root, ok := doc["step-runner-config"].(map[string]any)
	if !ok || root["build"] == nil {
		t.Errorf("doc = %v, want step-runner-config.build", doc)
	}
}

func TestAddPath_Missing(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.yml", "  \n")
	onlyComments := writeFile(t, dir, "comments.yml", "# nothing here\n")
	emptyDir := filepath.Join(dir, "emptydir")
	if err := os.Mkdir(emptyDir, 0o755); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{filepath.Join(dir, "absent.yml"), empty, onlyComments, emptyDir} {
		err := New(nil).Add(path)
		var missing *MissingError
		if !errors.As(err, &missing) {
			t.Errorf("Add(%s) error = %v, want *MissingError", filepath.Base(path), err)
		}
	}
}

func TestAddPath_Unparseable(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yml", "step-runner-config: [unclosed\n")
	err := New(nil).Add(path)
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if len(cfgErr.Issues) != 2 {
		t.Errorf("issues = %v, want a YAML and a JSON parser error", cfgErr.Issues)
	}
	if cfgErr.Source != path {
		t.Errorf("Source = %q, want %q", cfgErr.Source, path)
	}
}

func TestAddPath_SameFileTwice(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", "step-runner-config:\n  build:\n    implementer: Maven\n")
	link := filepath.Join(dir, "link.yml")
	if err := os.Symlink(path, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	cfg := New(nil)
	if err := cfg.Add(path); err != nil {
		t.Fatal(err)
	}
	err := cfg.Add(link)
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("loading a symlink to a loaded file: error = %v, want *Error", err)
	}
}

func TestValidateDocument_Violations(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
		want string
	}{
		{"missing root", map[string]any{"other": 1}, "step-runner-config"},
		{"unknown top-level key", map[string]any{"step-runner-config": map[string]any{}, "extra": 1}, "extra"},
		{"missing implementer", map[string]any{"step-runner-config": map[string]any{
			"build": map[string]any{"config": map[string]any{}},
		}}, "step-runner-config.build"},
		{"step is scalar", map[string]any{"step-runner-config": map[string]any{"build": "Maven"}}, "step-runner-config.build"},
		{"empty list", map[string]any{"step-runner-config": map[string]any{"build": []any{}}}, "declares no sub-steps"},
		{"global defaults not a map", map[string]any{"step-runner-config": map[string]any{"global-defaults": "x"}}, "global-defaults"},
		{"env defaults not maps", map[string]any{"step-runner-config": map[string]any{
			"global-environment-defaults": map[string]any{"prod": 1},
		}}, "global-environment-defaults.prod"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestGenerateSchemas(t *testing.T) {
	for name, generate := range map[string]func() ([]byte, error){
		"document": GenerateDocumentJSONSchema,
		"sub-step": GenerateSubStepJSONSchema,
	} {
		data, err := generate()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !strings.Contains(string(data), "implementer") {
			t.Errorf("%s schema does not mention implementer", name)
		}
	}
}
