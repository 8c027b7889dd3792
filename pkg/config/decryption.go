package config

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultDecryptorNamespace is the namespace bare decryptor names resolve
// under, e.g. "Age" resolves to "decryptors.Age".
const DefaultDecryptorNamespace = "decryptors"

// Decryptor decides whether it can decrypt a configuration leaf and, if
// so, produces its plaintext.
type Decryptor interface {
	CanDecrypt(v *ConfigValue) bool
	Decrypt(v *ConfigValue) (any, error)
}

// Obfuscator is a sink, typically an output stream, that must hide every
// decrypted secret it is told about.
type Obfuscator interface {
	AddObfuscationTargets(targets ...string)
}

// DecryptorFactory constructs a decryptor from user supplied parameters.
// Use DecodeParams to reject unknown or missing parameters.
type DecryptorFactory func(params map[string]any) (Decryptor, error)

// Registry holds the ordered decryptors and obfuscation sinks of one
// process. Decryptors are tried in registration order; the first one that
// can decrypt a value wins.
type Registry struct {
	mu         sync.RWMutex
	decryptors []Decryptor
	sinks      []Obfuscator
	targets    []string
	factories  map[string]DecryptorFactory
}

// NewRegistry returns an empty registry with no decryptors, sinks or
// factories.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]DecryptorFactory)}
}

// QualifiedDecryptorName places bare names under DefaultDecryptorNamespace.
func QualifiedDecryptorName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return DefaultDecryptorNamespace + "." + name
}

// RegisterFactory makes a decryptor constructible by name.
func (r *Registry) RegisterFactory(name string, factory DecryptorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[QualifiedDecryptorName(name)] = factory
}

// Factories returns the sorted qualified names of the known factories.
func (r *Registry) Factories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register appends an already constructed decryptor.
func (r *Registry) Register(d Decryptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decryptors = append(r.decryptors, d)
}

// RegisterByName constructs the named decryptor with params and appends it.
// An unknown name or parameters that do not fit the decryptor are
// configuration errors.
func (r *Registry) RegisterByName(name string, params map[string]any) error {
	qualified := QualifiedDecryptorName(name)
	r.mu.RLock()
	factory, ok := r.factories[qualified]
	r.mu.RUnlock()
	if !ok {
		return Errorf("unknown decryptor %q (resolved as %q)", name, qualified)
	}
	d, err := factory(params)
	if err != nil {
		return &Error{Message: fmt.Sprintf("construct decryptor %q", qualified), Err: err}
	}
	if d == nil {
		return Errorf("decryptor factory %q returned no decryptor", qualified)
	}
	r.Register(d)
	return nil
}

// Decryptors returns the registered decryptors in order.
func (r *Registry) Decryptors() []Decryptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.decryptors)
}

// AddObfuscationSink registers a sink. Secrets already seen are passed to
// it immediately.
func (r *Registry) AddObfuscationSink(sink Obfuscator) {
	r.mu.Lock()
	r.sinks = append(r.sinks, sink)
	targets := slices.Clone(r.targets)
	r.mu.Unlock()
	if len(targets) > 0 {
		sink.AddObfuscationTargets(targets...)
	}
}

// Obfuscate sends the string forms of value to every registered sink.
func (r *Registry) Obfuscate(value any) {
	targets := secretStrings(value, nil)
	if len(targets) == 0 {
		return
	}
	r.mu.Lock()
	for _, t := range targets {
		if !slices.Contains(r.targets, t) {
			r.targets = append(r.targets, t)
		}
	}
	sinks := slices.Clone(r.sinks)
	r.mu.Unlock()
	for _, sink := range sinks {
		sink.AddObfuscationTargets(targets...)
	}
}

func (r *Registry) decrypt(v *ConfigValue) (any, bool, error) {
	for _, d := range r.Decryptors() {
		if !d.CanDecrypt(v) {
			continue
		}
		value, err := d.Decrypt(v)
		if err != nil {
			return nil, true, &Error{
				Source:  sourceName(v.parentSource),
				Message: fmt.Sprintf("decrypt %s", v.PathString()),
				Err:     err,
			}
		}
		if value != nil {
			r.Obfuscate(value)
		}
		return value, true, nil
	}
	return nil, false, nil
}

func secretStrings(value any, acc []string) []string {
	switch val := value.(type) {
	case string:
		if val != "" {
			acc = append(acc, val)
		}
	case []byte:
		if len(val) > 0 {
			acc = append(acc, string(val))
		}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		acc = append(acc, fmt.Sprint(val))
	case []any:
		for _, child := range val {
			acc = secretStrings(child, acc)
		}
	case map[string]any:
		for _, child := range val {
			acc = secretStrings(child, acc)
		}
	}
	return acc
}

// DecodeParams strictly decodes decryptor parameters into out, a pointer
// to a struct with yaml tags. Unknown parameters are rejected.
func DecodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parameters: %w", err)
	}
	return nil
}

func sourceName(source any) string {
	if s, ok := source.(string); ok {
		return s
	}
	return "<memory>"
}
