package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// configExtensions are the file extensions picked up when a directory is
// added.
var configExtensions = map[string]bool{".yml": true, ".yaml": true, ".json": true}

// AddPath loads a configuration file, or every configuration file below a
// directory in sorted order.
func (c *Config) AddPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &MissingError{Path: path, Reason: "does not exist"}
		}
		return &MissingError{Path: path, Reason: "cannot be read", Err: err}
	}
	if !info.IsDir() {
		return c.addFile(path)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && configExtensions[strings.ToLower(filepath.Ext(p))] {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return &Error{Source: path, Message: "walk configuration directory", Err: err}
	}
	if len(files) == 0 {
		return &MissingError{Path: path, Reason: "directory contains no .yml, .yaml or .json files"}
	}
	// WalkDir visits entries in lexical order, files is already sorted.
	for _, f := range files {
		if err := c.addFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) addFile(path string) error {
	key, err := filepath.Abs(path)
	if err == nil {
		if resolved, err := filepath.EvalSymlinks(key); err == nil {
			key = resolved
		}
	}
	if first, seen := c.loaded[key]; seen {
		return &Error{Source: path, Message: fmt.Sprintf("configuration file already loaded (as %s)", first)}
	}

	doc, err := ParseFile(path)
	if err != nil {
		return err
	}
	c.loaded[key] = path
	return c.AddDocument(doc, path)
}

// ParseFile reads a configuration document. YAML is tried first, then
// JSON (comments and trailing commas allowed).
func ParseFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingError{Path: path, Reason: "does not exist"}
		}
		return nil, &MissingError{Path: path, Reason: "cannot be read", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &MissingError{Path: path, Reason: "is empty"}
	}
	doc, err := Parse(data)
	if err != nil {
		var cfgErr *Error
		if errors.As(err, &cfgErr) {
			cfgErr.Source = path
			return nil, cfgErr
		}
		return nil, err
	}
	if doc == nil {
		return nil, &MissingError{Path: path, Reason: "contains no configuration"}
	}
	return doc, nil
}

// Parse decodes YAML or JSON configuration bytes into a document. A nil
// document with no error means the input held no values.
func Parse(data []byte) (map[string]any, error) {
	var raw any
	yamlErr := yaml.Unmarshal(data, &raw)
	if yamlErr != nil {
		raw = nil
		if jsonErr := json.Unmarshal(jsonc.ToJSON(data), &raw); jsonErr != nil {
			return nil, &Error{
				Message: "not valid YAML or JSON",
				Issues: []string{
					"yaml: " + yamlErr.Error(),
					"json: " + jsonErr.Error(),
				},
			}
		}
	}
	if raw == nil {
		return nil, nil
	}
	normalized, err := normalize(raw)
	if err != nil {
		return nil, &Error{Message: "decode document", Err: err}
	}
	doc, ok := normalized.(map[string]any)
	if !ok {
		return nil, Errorf("document must be a mapping, got %T", normalized)
	}
	return doc, nil
}

// normalize converts decoder output into map[string]any / []any trees.
func normalize(value any) (any, error) {
	switch val := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			ks, ok := k.(string)
			if !ok {
				ks = fmt.Sprint(k)
			}
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			out[ks] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return val, nil
	}
}

// AddDocument validates a parsed document and merges it. source is the
// file path the document came from, or the document itself when it was
// built in memory.
func (c *Config) AddDocument(doc map[string]any, source any) error {
	name := sourceName(source)
	normalized, err := normalize(doc)
	if err != nil {
		return &Error{Source: name, Message: "decode document", Err: err}
	}
	doc = normalized.(map[string]any)

	if err := ValidateDocument(doc); err != nil {
		var cfgErr *Error
		if errors.As(err, &cfgErr) {
			cfgErr.Source = name
		}
		return err
	}

	if decryptors, ok := doc[KeyConfigDecryptors].([]any); ok {
		for i, entry := range decryptors {
			decl := entry.(map[string]any)
			implementer, _ := decl[KeyImplementer].(string)
			params, _ := decl[KeyConfig].(map[string]any)
			if err := c.registry.RegisterByName(implementer, params); err != nil {
				return &Error{Source: name, Message: fmt.Sprintf("%s[%d]", KeyConfigDecryptors, i), Err: err}
			}
		}
	}

	root := doc[KeyStepRunnerConfig].(map[string]any)
	base := []any{KeyStepRunnerConfig}

	if defaults, ok := root[KeyGlobalDefaults].(map[string]any); ok {
		tree := LeafifyMap(defaults, source, appendPath(base, KeyGlobalDefaults), c.registry)
		if err := c.mergeGlobalDefaults(tree, name); err != nil {
			return err
		}
	}
	if envDefaults, ok := root[KeyGlobalEnvironmentDefaults].(map[string]any); ok {
		for _, env := range sortedKeys(envDefaults) {
			m, _ := envDefaults[env].(map[string]any)
			tree := LeafifyMap(m, source, appendPath(appendPath(base, KeyGlobalEnvironmentDefaults), env), c.registry)
			if err := c.mergeGlobalEnvironmentDefaults(env, tree, name); err != nil {
				return err
			}
		}
	}

	for _, stepName := range sortedKeys(root) {
		if stepName == KeyGlobalDefaults || stepName == KeyGlobalEnvironmentDefaults {
			continue
		}
		stepPath := appendPath(base, stepName)
		switch decl := root[stepName].(type) {
		case map[string]any:
			if err := c.addSubStepDeclaration(stepName, decl, source, stepPath); err != nil {
				return err
			}
		case []any:
			for i, entry := range decl {
				if err := c.addSubStepDeclaration(stepName, entry.(map[string]any), source, appendPath(stepPath, i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *Config) addSubStepDeclaration(stepName string, decl map[string]any, source any, path []any) error {
	implementer, _ := decl[KeyImplementer].(string)
	subStepName, _ := decl[KeyName].(string)

	var config map[string]any
	if m, ok := decl[KeyConfig].(map[string]any); ok {
		config = LeafifyMap(m, source, appendPath(path, KeyConfig), c.registry)
	}
	var envConfig map[string]map[string]any
	if m, ok := decl[KeyEnvironmentConfig].(map[string]any); ok {
		envConfig = make(map[string]map[string]any, len(m))
		for env, v := range m {
			envMap, _ := v.(map[string]any)
			envConfig[env] = LeafifyMap(envMap, source, appendPath(appendPath(path, KeyEnvironmentConfig), env), c.registry)
		}
	}

	if _, err := c.stepConfig(stepName).AddOrUpdateSubStep(subStepName, implementer, config, envConfig); err != nil {
		var cfgErr *Error
		if errors.As(err, &cfgErr) && cfgErr.Source == "" {
			cfgErr.Source = sourceName(source)
		}
		return err
	}
	return nil
}
