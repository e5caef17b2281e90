package jt

import "io"

// Encryptor seals hand-off batches before they leave the host. Sealing
// needs only the public key; opening a batch needs the passphrase that
// protects the private key.
type Encryptor interface {
	// GenerateKeys creates the key pair and returns the public key.
	GenerateKeys(passphrase string) (string, error)

	Encrypt(r io.Reader, w io.Writer) error

	// Unlock opens the private key. A wrong passphrase is an error.
	Unlock(passphrase string) (DecryptionContext, error)

	// HasKeys reports whether both key files are present.
	HasKeys() bool
}

// DecryptionContext opens sealed batches with an unlocked private key.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
