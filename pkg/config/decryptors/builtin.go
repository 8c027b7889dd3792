// Package decryptors provides the built-in configuration decryptors.
//
//	decryptors.SensitivePath  obfuscate-only; flags *password* / *username* keys
//	decryptors.Age            decrypts age ciphertext with X25519 identities
package decryptors

import "github.com/ormasoftchile/steprunner/pkg/config"

// Names of the built-in decryptor factories.
const (
	NameSensitivePath = config.DefaultDecryptorNamespace + ".SensitivePath"
	NameAge           = config.DefaultDecryptorNamespace + ".Age"
)

// RegisterBuiltins makes the built-in decryptors constructible by name.
func RegisterBuiltins(reg *config.Registry) {
	reg.RegisterFactory(NameSensitivePath, newSensitivePathFromParams)
	reg.RegisterFactory(NameAge, newAgeFromParams)
}

// NewRegistry returns a registry that can construct the built-in
// decryptors by name.
func NewRegistry() *config.Registry {
	reg := config.NewRegistry()
	RegisterBuiltins(reg)
	return reg
}

// RegisterDefaults appends a SensitivePath decryptor with the default
// patterns. Call it after every document has been added: decryptors
// declared in config-decryptors must be tried first, or an encrypted
// password would be claimed as obfuscate-only and never decrypted.
func RegisterDefaults(reg *config.Registry) {
	sp, _ := NewSensitivePath()
	reg.Register(sp)
}
