package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"jt-go/internal/config"
	"jt-go/internal/jt"
)

// ErrKeysExist is returned by GenerateKeys when a key pair is already present.
var ErrKeysExist = errors.New("hand-off key pair already exists")

const publicKeyHeader = "# jt hand-off recipient\n"

// AgeEncryptor seals hand-off batches to an X25519 recipient. The public
// key file is plain text so collection runs never prompt; the private key
// is itself an age file sealed with an scrypt passphrase.
type AgeEncryptor struct {
	pubPath  string
	keyPath  string
	scryptLN int // log2 work factor for sealing the private key, 0 keeps age's default

	mu        sync.Mutex
	recipient age.Recipient
}

var _ jt.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{pubPath: cfg.PublicKeyPath, keyPath: cfg.PrivateKeyPath}
}

// SetWorkFactor lowers or raises the scrypt cost of GenerateKeys. Tests
// use a small value.
func (e *AgeEncryptor) SetWorkFactor(logN int) {
	e.scryptLN = logN
}

// GenerateKeys writes a fresh key pair and returns the recipient string.
// Existing keys are never replaced: batches already handed off would
// become unreadable.
func (e *AgeEncryptor) GenerateKeys(passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("passphrase must not be empty")
	}
	if e.HasKeys() {
		return "", fmt.Errorf("%w at %s", ErrKeysExist, filepath.Dir(e.pubPath))
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating key pair: %w", err)
	}
	sealed, err := e.sealIdentity(id, passphrase)
	if err != nil {
		return "", err
	}

	pub := id.Recipient().String()
	if err := writeKeyFile(e.pubPath, []byte(publicKeyHeader+pub+"\n"), 0644); err != nil {
		return "", fmt.Errorf("writing public key: %w", err)
	}
	if err := writeKeyFile(e.keyPath, sealed, 0600); err != nil {
		return "", fmt.Errorf("writing private key: %w", err)
	}

	e.mu.Lock()
	e.recipient = id.Recipient()
	e.mu.Unlock()
	return pub, nil
}

func (e *AgeEncryptor) sealIdentity(id *age.X25519Identity, passphrase string) ([]byte, error) {
	r, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if e.scryptLN > 0 {
		r.SetWorkFactor(e.scryptLN)
	}

	var buf bytes.Buffer
	if err := sealTo(&buf, bytes.NewBufferString(id.String()+"\n"), r); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	return buf.Bytes(), nil
}

func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

// Encrypt seals one hand-off payload to the configured recipient.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	rcpt, err := e.publicKey()
	if err != nil {
		return err
	}
	if err := sealTo(w, r, rcpt); err != nil {
		return fmt.Errorf("encrypting batch: %w", err)
	}
	return nil
}

func sealTo(w io.Writer, r io.Reader, rcpt age.Recipient) error {
	aw, err := age.Encrypt(w, rcpt)
	if err != nil {
		return err
	}
	if _, err := io.Copy(aw, r); err != nil {
		return err
	}
	return aw.Close()
}

// Unlock opens the private key with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (jt.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	sid, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	plain, err := age.Decrypt(bytes.NewReader(sealed), sid)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}
	ids, err := age.ParseIdentities(plain)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(ids) != 1 {
		return nil, fmt.Errorf("private key file holds %d identities, want 1", len(ids))
	}
	return &AgeDecryptionContext{identity: ids[0]}, nil
}

func (e *AgeEncryptor) HasKeys() bool {
	for _, p := range []string{e.pubPath, e.keyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// publicKey parses the recipient file on first use.
func (e *AgeEncryptor) publicKey() (age.Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}

	f, err := os.Open(e.pubPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	defer f.Close()
	rs, err := age.ParseRecipients(f)
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", e.pubPath, err)
	}
	if len(rs) != 1 {
		return nil, fmt.Errorf("public key file %s holds %d recipients, want 1", e.pubPath, len(rs))
	}
	e.recipient = rs[0]
	return e.recipient, nil
}

// AgeDecryptionContext opens sealed batches.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ jt.DecryptionContext = (*AgeDecryptionContext)(nil)

func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	plain, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("opening batch: %w", err)
	}
	if _, err := io.Copy(w, plain); err != nil {
		return fmt.Errorf("reading batch: %w", err)
	}
	return nil
}
