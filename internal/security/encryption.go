package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"
)

// EncryptionConfig holds the scrypt cost parameters for credential files.
type EncryptionConfig struct {
	SCryptN int
	SCryptR int
	SCryptP int
}

// DefaultEncryptionConfig returns OWASP-minimum scrypt parameters.
func DefaultEncryptionConfig() EncryptionConfig {
	return EncryptionConfig{SCryptN: 32768, SCryptR: 8, SCryptP: 1}
}

// Validate rejects parameters below the minimum cost.
func (c EncryptionConfig) Validate() error {
	if c.SCryptN < 16384 || c.SCryptN&(c.SCryptN-1) != 0 {
		return errors.New("SCryptN must be a power of two of at least 16384")
	}
	if c.SCryptR < 8 {
		return errors.New("SCryptR must be at least 8")
	}
	if c.SCryptP < 1 {
		return errors.New("SCryptP must be at least 1")
	}
	return nil
}

// EncryptedPayload is the on-disk form of an encrypted ledger credential
// (for example a Sheets service account key).
type EncryptedPayload struct {
	Version    uint8  `json:"version"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

const payloadVersion = 1

func deriveKey(passphrase, salt []byte, n, r, p int) ([]byte, error) {
	key, err := scrypt.Key(passphrase, salt, n, r, p, 32)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// EncryptCredentials encrypts plaintext with AES-256-GCM under a key derived
// from passphrase with scrypt.
func EncryptCredentials(plaintext, passphrase []byte, cfg EncryptionConfig) (*EncryptedPayload, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}
	if len(passphrase) < 12 {
		return nil, errors.New("passphrase must be at least 12 bytes")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := deriveKey(passphrase, salt, cfg.SCryptN, cfg.SCryptR, cfg.SCryptP)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &EncryptedPayload{
		Version:    payloadVersion,
		N:          cfg.SCryptN,
		R:          cfg.SCryptR,
		P:          cfg.SCryptP,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, []byte{payloadVersion}),
	}, nil
}

// DecryptCredentials reverses EncryptCredentials. A wrong passphrase or any
// modification of the payload fails authentication.
func DecryptCredentials(payload *EncryptedPayload, passphrase []byte) ([]byte, error) {
	if payload == nil {
		return nil, errors.New("payload cannot be nil")
	}
	if payload.Version != payloadVersion {
		return nil, fmt.Errorf("unsupported payload version: %d", payload.Version)
	}
	cfg := EncryptionConfig{SCryptN: payload.N, SCryptR: payload.R, SCryptP: payload.P}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase, payload.Salt, cfg.SCryptN, cfg.SCryptR, cfg.SCryptP)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(payload.Nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	plaintext, err := gcm.Open(nil, payload.Nonce, payload.Ciphertext, []byte{payload.Version})
	if err != nil {
		return nil, errors.New("decryption failed: wrong passphrase or tampered payload")
	}
	return plaintext, nil
}

// WriteEncryptedFile encrypts plaintext and writes it to path with 0600.
func WriteEncryptedFile(path string, plaintext, passphrase []byte, cfg EncryptionConfig) error {
	payload, err := EncryptCredentials(plaintext, passphrase, cfg)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// ReadEncryptedFile reads and decrypts a file written by WriteEncryptedFile.
func ReadEncryptedFile(path string, passphrase []byte) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read encrypted file: %w", err)
	}
	var payload EncryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse encrypted file: %w", err)
	}
	return DecryptCredentials(&payload, passphrase)
}
