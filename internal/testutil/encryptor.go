package testutil

import (
	"path/filepath"
	"testing"

	"jt-go/internal/config"
	"jt-go/internal/encryption"
)

// TestPassphrase unlocks encryptors from NewTestEncryptor.
const TestPassphrase = "test-passphrase"

// NewTestEncryptor creates an age encryptor with a fresh key pair in a
// temporary directory. The private key is sealed with TestPassphrase using a
// low scrypt work factor.
func NewTestEncryptor(t *testing.T) *encryption.AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	e := encryption.NewAgeEncryptor(config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "jt.pub"),
		PrivateKeyPath: filepath.Join(dir, "jt.key"),
	})
	e.SetWorkFactor(10)
	if _, err := e.GenerateKeys(TestPassphrase); err != nil {
		t.Fatalf("failed to set up encryptor: %v", err)
	}
	return e
}
