package decryptors

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/ormasoftchile/steprunner/pkg/config"
)

// Encrypted values are either ASCII-armored age files or a compact
// envelope of base64 ciphertext: ENC[age,<base64>].
const (
	envelopePrefix = "ENC[age,"
	envelopeSuffix = "]"
)

// Age decrypts configuration values encrypted to one of its X25519
// identities.
type Age struct {
	identities []age.Identity
}

// NewAge returns a decryptor for the given identities.
func NewAge(identities ...age.Identity) *Age {
	return &Age{identities: identities}
}

type ageParams struct {
	Identity     string `yaml:"identity"`
	IdentityFile string `yaml:"identity-file"`
}

func newAgeFromParams(params map[string]any) (config.Decryptor, error) {
	var p ageParams
	if err := config.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	var src io.Reader
	switch {
	case p.Identity != "" && p.IdentityFile != "":
		return nil, errors.New("set one of identity or identity-file, not both")
	case p.Identity != "":
		src = strings.NewReader(p.Identity)
	case p.IdentityFile != "":
		f, err := os.Open(p.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("open identity file: %w", err)
		}
		defer f.Close()
		src = f
	default:
		return nil, errors.New("missing required parameter identity or identity-file")
	}
	identities, err := age.ParseIdentities(src)
	if err != nil {
		return nil, fmt.Errorf("parse age identities: %w", err)
	}
	return NewAge(identities...), nil
}

// CanDecrypt reports whether the raw value is age ciphertext.
func (a *Age) CanDecrypt(v *config.ConfigValue) bool {
	s, ok := v.RawValue().(string)
	if !ok {
		return false
	}
	return isArmored(s) || isEnvelope(s)
}

// Decrypt returns the plaintext as a string.
func (a *Age) Decrypt(v *config.ConfigValue) (any, error) {
	s, _ := v.RawValue().(string)
	var ciphertext io.Reader
	switch {
	case isArmored(s):
		ciphertext = armor.NewReader(strings.NewReader(strings.TrimSpace(s)))
	case isEnvelope(s):
		s = strings.TrimSpace(s)
		encoded := strings.TrimSuffix(strings.TrimPrefix(s, envelopePrefix), envelopeSuffix)
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode age envelope: %w", err)
		}
		ciphertext = bytes.NewReader(raw)
	default:
		return nil, errors.New("value is not age ciphertext")
	}
	r, err := age.Decrypt(ciphertext, a.identities...)
	if err != nil {
		return nil, fmt.Errorf("age decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read age plaintext: %w", err)
	}
	return string(plaintext), nil
}

// EncryptString encrypts plaintext to the given recipients and returns it
// in the ENC[age,...] envelope form.
func EncryptString(plaintext string, recipientKeys ...string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", errors.New("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return "", fmt.Errorf("parse recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize age encryption: %w", err)
	}
	return envelopePrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + envelopeSuffix, nil
}

func isArmored(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), armor.Header)
}

func isEnvelope(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, envelopePrefix) && strings.HasSuffix(s, envelopeSuffix)
}
