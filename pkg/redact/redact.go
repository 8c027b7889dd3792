// Package redact hides registered secrets from output streams.
package redact

import (
	"io"
	"slices"
	"strings"
	"sync"
)

// Placeholder replaces every occurrence of a secret.
const Placeholder = "<REDACTED>"

// Writer is an io.Writer that replaces registered secrets before passing
// output through. It satisfies config.Obfuscator, so a decryption registry
// can feed it every secret it decrypts.
//
// Redaction is applied per Write call; a secret split across two writes is
// not detected.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	targets []string
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// AddObfuscationTargets registers secrets to hide. Empty strings are
// ignored.
func (rw *Writer) AddObfuscationTargets(targets ...string) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	for _, t := range targets {
		if t == "" || slices.Contains(rw.targets, t) {
			continue
		}
		rw.targets = append(rw.targets, t)
	}
	// Longest first, so a secret containing another one is hidden whole.
	slices.SortStableFunc(rw.targets, func(a, b string) int { return len(b) - len(a) })
}

// Redact applies the registered targets to s.
func (rw *Writer) Redact(s string) string {
	rw.mu.Lock()
	targets := slices.Clone(rw.targets)
	rw.mu.Unlock()
	return String(s, targets)
}

// Write redacts p and writes it to the underlying writer. It reports
// len(p) on success, whatever the length of the redacted output.
func (rw *Writer) Write(p []byte) (int, error) {
	out := rw.Redact(string(p))
	if _, err := io.WriteString(rw.w, out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// String replaces every target in s with Placeholder.
func String(s string, targets []string) string {
	for _, t := range targets {
		if t != "" {
			s = strings.ReplaceAll(s, t, Placeholder)
		}
	}
	return s
}
