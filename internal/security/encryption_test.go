package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimum cost keeps the tests fast
var testEncryption = EncryptionConfig{SCryptN: 16384, SCryptR: 8, SCryptP: 1}

func TestEncryptDecryptCredentials(t *testing.T) {
	plaintext := []byte(`{"type":"service_account","project_id":"ledger"}`)
	passphrase := []byte("correct horse battery staple")

	payload, err := EncryptCredentials(plaintext, passphrase, testEncryption)
	require.NoError(t, err)
	assert.NotContains(t, string(payload.Ciphertext), "service_account")

	got, err := DecryptCredentials(payload, passphrase)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptCredentials_Failures(t *testing.T) {
	passphrase := []byte("correct horse battery staple")
	payload, err := EncryptCredentials([]byte("secret"), passphrase, testEncryption)
	require.NoError(t, err)

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := DecryptCredentials(payload, []byte("incorrect passphrase"))
		assert.Error(t, err)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := *payload
		tampered.Ciphertext = append([]byte(nil), payload.Ciphertext...)
		tampered.Ciphertext[0] ^= 0xff
		_, err := DecryptCredentials(&tampered, passphrase)
		assert.Error(t, err)
	})

	t.Run("unknown version", func(t *testing.T) {
		tampered := *payload
		tampered.Version = 9
		_, err := DecryptCredentials(&tampered, passphrase)
		assert.Error(t, err)
	})

	t.Run("weak parameters", func(t *testing.T) {
		tampered := *payload
		tampered.N = 1024
		_, err := DecryptCredentials(&tampered, passphrase)
		assert.Error(t, err)
	})
}

func TestEncryptCredentials_RejectsBadInput(t *testing.T) {
	_, err := EncryptCredentials(nil, []byte("long enough passphrase"), testEncryption)
	assert.Error(t, err)

	_, err = EncryptCredentials([]byte("x"), []byte("short"), testEncryption)
	assert.Error(t, err)

	_, err = EncryptCredentials([]byte("x"), []byte("long enough passphrase"), EncryptionConfig{SCryptN: 1000, SCryptR: 8, SCryptP: 1})
	assert.Error(t, err)
}

func TestEncryptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	passphrase := []byte("correct horse battery staple")

	require.NoError(t, WriteEncryptedFile(path, []byte("sheets-key"), passphrase, testEncryption))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if info.Mode().Perm() != 0600 && os.PathSeparator == '/' {
		t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	got, err := ReadEncryptedFile(path, passphrase)
	require.NoError(t, err)
	assert.Equal(t, "sheets-key", string(got))
}
