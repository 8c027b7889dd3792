package step

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ormasoftchile/steprunner/pkg/config"
)

// DefaultNamespace prefixes implementer names that are not fully
// qualified.
const DefaultNamespace = "implementers"

// Registry maps qualified implementer names to descriptors.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: map[string]Descriptor{}}
}

// Register adds d under a fully qualified, dotted name such as
// implementers.build.Maven.
func (r *Registry) Register(name string, d Descriptor) error {
	if !strings.Contains(name, ".") {
		return fmt.Errorf("implementer name %q must be qualified", name)
	}
	if d.New == nil {
		return fmt.Errorf("implementer %q: descriptor has no constructor", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[name]; exists {
		return fmt.Errorf("implementer %q already registered", name)
	}
	r.descriptors[name] = d
	return nil
}

// MustRegister is Register that panics, for init-time registration.
func (r *Registry) MustRegister(name string, d Descriptor) {
	if err := r.Register(name, d); err != nil {
		panic(err)
	}
}

// QualifiedName resolves an implementer name used by a sub-step of
// stepName. Dotted names are taken as they are; a bare name resolves to
// implementers.<step>.<name> with dashes in the step name replaced by
// underscores.
func QualifiedName(stepName, implementer string) string {
	if strings.Contains(implementer, ".") {
		return implementer
	}
	return DefaultNamespace + "." + strings.ReplaceAll(stepName, "-", "_") + "." + implementer
}

// Lookup resolves implementer for a sub-step of stepName. An unknown name
// is a *config.Error.
func (r *Registry) Lookup(stepName, implementer string) (string, Descriptor, error) {
	if implementer == "" {
		return "", Descriptor{}, config.Errorf("step %q: empty implementer name", stepName)
	}
	name := QualifiedName(stepName, implementer)
	r.mu.RLock()
	d, ok := r.descriptors[name]
	r.mu.RUnlock()
	if !ok {
		return name, Descriptor{}, &config.Error{
			Message: fmt.Sprintf("step %q: unknown implementer %q", stepName, implementer),
			Err:     fmt.Errorf("%w: %s", ErrUnknownImplementer, name),
		}
	}
	return name, d, nil
}

// ErrUnknownImplementer is wrapped by Lookup errors for unregistered names.
var ErrUnknownImplementer = errors.New("no implementer registered")

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
