package redact

import (
	"bytes"
	"testing"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.AddObfuscationTargets("secret", "", "secret-token", "secret")

	in := []byte("token=secret-token pass=secret\n")
	n, err := w.Write(in)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(in) {
		t.Errorf("Write() = %d, want %d", n, len(in))
	}
	if got, want := buf.String(), "token=<REDACTED> pass=<REDACTED>\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestWriter_NoTargets(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Write([]byte("plain output"))
	if buf.String() != "plain output" {
		t.Errorf("output = %q", buf.String())
	}
	if got := w.Redact("x"); got != "x" {
		t.Errorf("Redact() = %q", got)
	}
}

func TestString(t *testing.T) {
	if got := String("a-b-a", []string{"a", ""}); got != "<REDACTED>-b-<REDACTED>" {
		t.Errorf("String() = %q", got)
	}
}
