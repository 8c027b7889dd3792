package decryptors

import (
	"fmt"
	"regexp"

	"github.com/ormasoftchile/steprunner/pkg/config"
)

// DefaultSensitivePatterns flag any path segment containing "password" or
// "username".
var DefaultSensitivePatterns = []string{".*password.*", ".*username.*"}

// SensitivePath marks leaves whose path has a segment matching one of its
// patterns for obfuscation. It does not change the value: Decrypt returns
// the raw value so the registry hands it to every obfuscation sink.
type SensitivePath struct {
	patterns []*regexp.Regexp
}

// NewSensitivePath compiles patterns; with none, DefaultSensitivePatterns
// are used.
func NewSensitivePath(patterns ...string) (*SensitivePath, error) {
	if len(patterns) == 0 {
		patterns = DefaultSensitivePatterns
	}
	s := &SensitivePath{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, re)
	}
	return s, nil
}

type sensitivePathParams struct {
	Patterns []string `yaml:"patterns"`
}

func newSensitivePathFromParams(params map[string]any) (config.Decryptor, error) {
	var p sensitivePathParams
	if err := config.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return NewSensitivePath(p.Patterns...)
}

// CanDecrypt reports whether any string path segment matches.
func (s *SensitivePath) CanDecrypt(v *config.ConfigValue) bool {
	for _, elem := range v.Path() {
		segment, ok := elem.(string)
		if !ok {
			continue
		}
		for _, re := range s.patterns {
			if re.MatchString(segment) {
				return true
			}
		}
	}
	return false
}

// Decrypt returns the raw value unchanged.
func (s *SensitivePath) Decrypt(v *config.ConfigValue) (any, error) {
	return v.RawValue(), nil
}
