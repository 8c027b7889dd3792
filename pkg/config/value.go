package config

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// ConfigValue wraps one configuration leaf together with where it came
// from: the parent source (a file path, or the in-memory document it was
// added from) and the key/index path leading to it inside that source.
//
// Reads go through Value, which lets registered decryptors decrypt the
// leaf and register it for obfuscation. A ConfigValue never hands out a
// reference to its raw value.
type ConfigValue struct {
	raw          any
	parentSource any
	path         []any
	registry     *Registry
}

// NewConfigValue wraps value. Path elements are strings (map keys) or
// ints (list indices). A nil registry disables decryption.
func NewConfigValue(value any, parentSource any, path []any, registry *Registry) *ConfigValue {
	return &ConfigValue{
		raw:          deepCopy(value),
		parentSource: parentSource,
		path:         slices.Clone(path),
		registry:     registry,
	}
}

// RawValue returns a deep copy of the undecrypted value.
func (v *ConfigValue) RawValue() any {
	return deepCopy(v.raw)
}

// ParentSource returns the file path the value was loaded from, or a copy
// of the in-memory document it was added from.
func (v *ConfigValue) ParentSource() any {
	return deepCopy(v.parentSource)
}

// Path returns the key/index path of the value within its parent source.
func (v *ConfigValue) Path() []any {
	return slices.Clone(v.path)
}

// PathString renders the path as dotted keys with bracketed indices,
// e.g. step-runner-config.deploy[0].config.password.
func (v *ConfigValue) PathString() string {
	var b strings.Builder
	for _, p := range v.path {
		switch p := p.(type) {
		case int:
			b.WriteString("[" + strconv.Itoa(p) + "]")
		default:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(fmt.Sprint(p))
		}
	}
	return b.String()
}

// Value returns the decrypted value when a registered decryptor claims
// this leaf, otherwise a deep copy of the raw value.
func (v *ConfigValue) Value() (any, error) {
	if v.registry != nil {
		decrypted, ok, err := v.registry.decrypt(v)
		if err != nil {
			return nil, err
		}
		if ok && decrypted != nil {
			return decrypted, nil
		}
	}
	return v.RawValue(), nil
}

// String never includes the raw value, which may be a secret.
func (v *ConfigValue) String() string {
	return fmt.Sprintf("ConfigValue(%s)", v.PathString())
}

// Leafify converts a parsed document into a tree whose leaves are
// *ConfigValue. Maps and lists keep their shape; existing ConfigValues are
// kept as they are.
func Leafify(value any, parentSource any, path []any, registry *Registry) any {
	switch val := value.(type) {
	case *ConfigValue:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = Leafify(child, parentSource, appendPath(path, k), registry)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = Leafify(child, parentSource, appendPath(path, i), registry)
		}
		return out
	default:
		return NewConfigValue(val, parentSource, path, registry)
	}
}

// LeafifyMap is Leafify for the common map case.
func LeafifyMap(m map[string]any, parentSource any, path []any, registry *Registry) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return Leafify(m, parentSource, path, registry).(map[string]any)
}

// ConvertLeavesToValues resolves every *ConfigValue in tree through Value
// and returns a plain tree of maps, lists and scalars.
func ConvertLeavesToValues(tree any) (any, error) {
	switch val := tree.(type) {
	case *ConfigValue:
		return val.Value()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			resolved, err := ConvertLeavesToValues(child)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			resolved, err := ConvertLeavesToValues(child)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return deepCopy(val), nil
	}
}

func appendPath(path []any, elem any) []any {
	out := make([]any, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

// cloneTree copies the map/list structure of a leafified tree. Leaves are
// shared; they are immutable.
func cloneTree(tree any) any {
	switch val := tree.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = cloneTree(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = cloneTree(child)
		}
		return out
	default:
		return val
	}
}

func cloneTreeMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return cloneTree(m).(map[string]any)
}

func deepCopy(value any) any {
	switch val := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	case map[string]string:
		return maps.Clone(val)
	case []string:
		return slices.Clone(val)
	case []byte:
		return slices.Clone(val)
	default:
		return val
	}
}
