package config

import (
	"fmt"
	"strings"
)

// Error is a configuration error: an unreadable or malformed document, a
// schema violation, a duplicate key on merge, or an unresolvable
// decryptor or implementer name.
type Error struct {
	Source  string   // file path or "<memory>"; empty when not tied to a document
	Message string   // what went wrong
	Issues  []string // individual validation failures, if any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Source != "" {
		b.WriteString(e.Source)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	for _, issue := range e.Issues {
		b.WriteString("\n  - ")
		b.WriteString(issue)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error that is not tied to a document.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// MissingError reports a configuration path that does not exist or holds
// no configuration at all.
type MissingError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MissingError) Error() string {
	msg := fmt.Sprintf("configuration %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MissingError) Unwrap() error { return e.Err }
