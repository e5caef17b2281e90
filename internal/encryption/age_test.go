package encryption

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jt-go/internal/config"
)

const passphrase = "test-passphrase"

func newKeyedEncryptor(t *testing.T, generate bool) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	e := NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "jt.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "jt.key"),
	})
	e.SetWorkFactor(10)
	if generate {
		_, err := e.GenerateKeys(passphrase)
		require.NoError(t, err)
	}
	return e
}

func TestGenerateKeys(t *testing.T) {
	t.Parallel()
	e := newKeyedEncryptor(t, false)
	require.False(t, e.HasKeys())

	recipient, err := e.GenerateKeys(passphrase)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(recipient, "age1"), "recipient %q", recipient)
	assert.True(t, e.HasKeys())

	pub, err := os.ReadFile(e.pubPath)
	require.NoError(t, err)
	assert.Contains(t, string(pub), recipient)

	info, err := os.Stat(e.keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	sealed, err := os.ReadFile(e.keyPath)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "AGE-SECRET-KEY")
}

func TestGenerateKeys_KeepsExistingPair(t *testing.T) {
	t.Parallel()
	e := newKeyedEncryptor(t, true)

	_, err := e.GenerateKeys("another-passphrase")
	require.ErrorIs(t, err, ErrKeysExist)

	_, err = e.Unlock(passphrase)
	assert.NoError(t, err, "original passphrase must still unlock")
}

func TestGenerateKeys_EmptyPassphrase(t *testing.T) {
	t.Parallel()
	e := newKeyedEncryptor(t, false)

	_, err := e.GenerateKeys("")
	require.Error(t, err)
	assert.False(t, e.HasKeys())
}

func TestEncryptDecrypt(t *testing.T) {
	t.Parallel()
	e := newKeyedEncryptor(t, true)
	dc, err := e.Unlock(passphrase)
	require.NoError(t, err)

	payloads := map[string][]byte{
		"batch":  []byte("{\"volume_id\":\"C:\",\"sequence\":8}\n"),
		"empty":  {},
		"binary": {0x00, 0xff, 0x01, 0xfe},
		"large":  bytes.Repeat([]byte("abcdef"), 10000),
	}
	for name, in := range payloads {
		t.Run(name, func(t *testing.T) {
			var sealed bytes.Buffer
			require.NoError(t, e.Encrypt(bytes.NewReader(in), &sealed))
			if len(in) > 0 {
				assert.NotContains(t, sealed.String(), string(in))
			}

			var out bytes.Buffer
			require.NoError(t, dc.Decrypt(&sealed, &out))
			assert.Equal(t, len(in), out.Len())
			assert.True(t, bytes.Equal(in, out.Bytes()))
		})
	}
}

func TestEncrypt_ReloadsPublicKey(t *testing.T) {
	t.Parallel()
	e := newKeyedEncryptor(t, true)

	// A second encryptor over the same files parses the recipient file.
	fresh := NewAgeEncryptor(config.EncryptionConfig{PublicKeyPath: e.pubPath, PrivateKeyPath: e.keyPath})
	var sealed bytes.Buffer
	require.NoError(t, fresh.Encrypt(strings.NewReader("payload"), &sealed))

	dc, err := fresh.Unlock(passphrase)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, dc.Decrypt(&sealed, &out))
	assert.Equal(t, "payload", out.String())
}

func TestWithoutKeys(t *testing.T) {
	t.Parallel()
	e := newKeyedEncryptor(t, false)

	assert.Error(t, e.Encrypt(strings.NewReader("data"), &bytes.Buffer{}))
	_, err := e.Unlock(passphrase)
	assert.Error(t, err)
}

func TestUnlock_WrongPassphrase(t *testing.T) {
	t.Parallel()
	e := newKeyedEncryptor(t, true)

	_, err := e.Unlock("wrong-passphrase")
	assert.Error(t, err)
}

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Parallel()

	for typ, want := range map[string]struct{ isNil, isErr bool }{
		"age":   {},
		"":      {},
		"none":  {isNil: true},
		"rot13": {isNil: true, isErr: true},
	} {
		enc, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: typ})
		assert.Equal(t, want.isErr, err != nil, "type %q: err = %v", typ, err)
		assert.Equal(t, want.isNil, enc == nil, "type %q", typ)
	}
}
