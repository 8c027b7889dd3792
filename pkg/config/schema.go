package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Document is the shape of one configuration file.
type Document struct {
	StepRunnerConfig map[string]any         `json:"step-runner-config" jsonschema:"required"`
	ConfigDecryptors []DecryptorDeclaration `json:"config-decryptors,omitempty"`
}

// DecryptorDeclaration asks for a decryptor to be registered while the
// document is loaded.
type DecryptorDeclaration struct {
	Implementer string         `json:"implementer" jsonschema:"required,minLength=1"`
	Config      map[string]any `json:"config,omitempty"`
}

// SubStepDeclaration is one entry of a step in step-runner-config. A step
// is either a single declaration or a list of them.
type SubStepDeclaration struct {
	Name              string                    `json:"name,omitempty"`
	Implementer       string                    `json:"implementer" jsonschema:"required,minLength=1"`
	Config            map[string]any            `json:"config,omitempty"`
	EnvironmentConfig map[string]map[string]any `json:"environment-config,omitempty"`
}

// GenerateDocumentJSONSchema produces the JSON Schema of a configuration
// document.
func GenerateDocumentJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Document{})
	s.ID = "https://github.com/ormasoftchile/steprunner/schemas/config.json"
	s.Title = "Step runner configuration document"
	s.Description = "Schema for step runner YAML/JSON configuration files (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document schema: %w", err)
	}
	return data, nil
}

// GenerateSubStepJSONSchema produces the JSON Schema of a sub-step
// declaration.
func GenerateSubStepJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&SubStepDeclaration{})
	s.ID = "https://github.com/ormasoftchile/steprunner/schemas/sub-step.json"
	s.Title = "Step runner sub-step declaration"
	s.Description = "Schema for one sub-step entry of a step in step-runner-config"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sub-step schema: %w", err)
	}
	return data, nil
}

var (
	schemasOnce      sync.Once
	documentSchema   *sjsonschema.Schema
	subStepSchema    *sjsonschema.Schema
	schemaCompileErr error
)

func compiledSchemas() (*sjsonschema.Schema, *sjsonschema.Schema, error) {
	schemasOnce.Do(func() {
		documentSchema, schemaCompileErr = compileSchema("config.json", GenerateDocumentJSONSchema)
		if schemaCompileErr != nil {
			return
		}
		subStepSchema, schemaCompileErr = compileSchema("sub-step.json", GenerateSubStepJSONSchema)
	})
	return documentSchema, subStepSchema, schemaCompileErr
}

func compileSchema(name string, generate func() ([]byte, error)) (*sjsonschema.Schema, error) {
	data, err := generate()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}
	c := sjsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return sch, nil
}

// ValidateDocument checks the shape of a parsed document: the top level
// against the document schema, the reserved step-runner-config keys, and
// every sub-step declaration against the sub-step schema.
func ValidateDocument(doc map[string]any) error {
	docSchema, stepSchema, err := compiledSchemas()
	if err != nil {
		return &Error{Message: "load configuration schema", Err: err}
	}

	var issues []string
	issues = append(issues, validateAgainst(docSchema, doc, "")...)
	if len(issues) > 0 {
		return &Error{Message: "invalid configuration document", Issues: issues}
	}

	root := doc[KeyStepRunnerConfig].(map[string]any)
	for _, key := range sortedKeys(root) {
		path := KeyStepRunnerConfig + "." + key
		switch key {
		case KeyGlobalDefaults:
			if _, ok := root[key].(map[string]any); !ok {
				issues = append(issues, fmt.Sprintf("%s: must be a mapping", path))
			}
		case KeyGlobalEnvironmentDefaults:
			envs, ok := root[key].(map[string]any)
			if !ok {
				issues = append(issues, fmt.Sprintf("%s: must be a mapping of environment names to mappings", path))
				continue
			}
			for _, env := range sortedKeys(envs) {
				if _, ok := envs[env].(map[string]any); !ok {
					issues = append(issues, fmt.Sprintf("%s.%s: must be a mapping", path, env))
				}
			}
		default:
			switch decl := root[key].(type) {
			case map[string]any:
				issues = append(issues, validateAgainst(stepSchema, dropNulls(decl), path)...)
			case []any:
				if len(decl) == 0 {
					issues = append(issues, fmt.Sprintf("%s: declares no sub-steps", path))
				}
				for i, entry := range decl {
					entryPath := fmt.Sprintf("%s[%d]", path, i)
					m, ok := entry.(map[string]any)
					if !ok {
						issues = append(issues, fmt.Sprintf("%s: sub-step must be a mapping", entryPath))
						continue
					}
					issues = append(issues, validateAgainst(stepSchema, dropNulls(m), entryPath)...)
				}
			default:
				issues = append(issues, fmt.Sprintf("%s: step must be a sub-step mapping or a list of them", path))
			}
		}
	}
	if len(issues) > 0 {
		return &Error{Message: "invalid configuration document", Issues: issues}
	}
	return nil
}

// dropNulls removes the optional sections that were written without a
// value (e.g. a bare "config:"), which YAML decodes as nil.
func dropNulls(decl map[string]any) map[string]any {
	for _, k := range []string{KeyConfig, KeyEnvironmentConfig, KeyName} {
		if v, ok := decl[k]; ok && v == nil {
			delete(decl, k)
		}
	}
	return decl
}

func validateAgainst(sch *sjsonschema.Schema, value any, prefix string) []string {
	data, err := json.Marshal(value)
	if err != nil {
		return []string{fmt.Sprintf("%s: marshal for schema validation: %v", orRoot(prefix), err)}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []string{fmt.Sprintf("%s: unmarshal for schema validation: %v", orRoot(prefix), err)}
	}
	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return []string{fmt.Sprintf("%s: %v", orRoot(prefix), err)}
	}
	var issues []string
	for _, cause := range flattenValidationErrors(ve) {
		location := prefix
		if len(cause.InstanceLocation) > 0 {
			if location != "" {
				location += "."
			}
			location += strings.Join(cause.InstanceLocation, ".")
		}
		issues = append(issues, fmt.Sprintf("%s: %v", orRoot(location), cause.ErrorKind))
	}
	return issues
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

func orRoot(path string) string {
	if path == "" {
		return "(document)"
	}
	return path
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
