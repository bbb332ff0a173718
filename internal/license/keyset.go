package license

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// EdKeySet is a JWK Set holding Ed25519 keys. A set with an Issuer holds
// exactly one private key; a set without one holds public keys, newest first.
type EdKeySet struct {
	Issuer string            `json:"issuer,omitempty"`
	Keys   []jose.JSONWebKey `json:"keys"`
}

// NewPublicKeySet creates an empty public key set.
func NewPublicKeySet() *EdKeySet {
	return &EdKeySet{Keys: []jose.JSONWebKey{}}
}

// NewPrivateKeySet creates an empty private key set for issuer.
func NewPrivateKeySet(issuer string) *EdKeySet {
	return &EdKeySet{Issuer: issuer, Keys: []jose.JSONWebKey{}}
}

// NewKeySetPair generates an Ed25519 key pair and returns it as a public
// set and a private set sharing a time-ordered key ID.
func NewKeySetPair(issuer string) (*EdKeySet, *EdKeySet, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	kid, err := uuid.NewV6()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key ID: %w", err)
	}

	pub := NewPublicKeySet()
	if err := pub.AddPublicKey(publicKey, kid.String()); err != nil {
		return nil, nil, err
	}
	priv := NewPrivateKeySet(issuer)
	if err := priv.AddPrivateKey(privateKey, kid.String()); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// AddPublicKey prepends a public key to the set.
func (k *EdKeySet) AddPublicKey(key ed25519.PublicKey, keyID string) error {
	if k.Issuer != "" {
		return fmt.Errorf("cannot add public key to a private key set")
	}
	for _, existing := range k.Keys {
		if existing.KeyID == keyID {
			return fmt.Errorf("key with ID %s already exists in the set", keyID)
		}
	}

	jwk := jose.JSONWebKey{Key: key, KeyID: keyID, Algorithm: string(jose.EdDSA), Use: "sig"}
	k.Keys = append([]jose.JSONWebKey{jwk}, k.Keys...)
	return nil
}

// AddPrivateKey stores the single private key of the set.
func (k *EdKeySet) AddPrivateKey(key ed25519.PrivateKey, keyID string) error {
	if k.Issuer == "" {
		return fmt.Errorf("issuer must be set before adding a private key")
	}
	if len(k.Keys) > 0 {
		return fmt.Errorf("key set already contains a private key")
	}

	k.Keys = append(k.Keys, jose.JSONWebKey{Key: key, KeyID: keyID, Algorithm: string(jose.EdDSA), Use: "sig"})
	return nil
}

// PublicKeys returns every Ed25519 public key in the set. For a private set
// the public half of its key is returned.
func (k *EdKeySet) PublicKeys() ([]ed25519.PublicKey, error) {
	keys := make([]ed25519.PublicKey, 0, len(k.Keys))
	for _, jwk := range k.Keys {
		if err := checkJWK(jwk); err != nil {
			return nil, err
		}
		switch key := jwk.Key.(type) {
		case ed25519.PublicKey:
			keys = append(keys, key)
		case ed25519.PrivateKey:
			keys = append(keys, key.Public().(ed25519.PublicKey))
		default:
			return nil, fmt.Errorf("key with ID %s is not an Ed25519 key", jwk.KeyID)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no public keys in set")
	}
	return keys, nil
}

// PrivateKey returns the private key of an issuer set.
func (k *EdKeySet) PrivateKey() (ed25519.PrivateKey, error) {
	if k.Issuer == "" || len(k.Keys) == 0 {
		return nil, fmt.Errorf("no private key in set")
	}
	jwk := k.Keys[0]
	if err := checkJWK(jwk); err != nil {
		return nil, err
	}
	key, ok := jwk.Key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key with ID %s is not an Ed25519 private key", jwk.KeyID)
	}
	return key, nil
}

func checkJWK(jwk jose.JSONWebKey) error {
	if jwk.Algorithm != string(jose.EdDSA) {
		return fmt.Errorf("key with ID %s has unsupported algorithm %s, expected %s", jwk.KeyID, jwk.Algorithm, jose.EdDSA)
	}
	if jwk.Use != "sig" {
		return fmt.Errorf("key with ID %s has unsupported use %s, expected 'sig'", jwk.KeyID, jwk.Use)
	}
	return nil
}

// ToJSON serializes the set.
func (k *EdKeySet) ToJSON() ([]byte, error) {
	return json.MarshalIndent(*k, "", "  ")
}

// WriteFile writes the set to filePath. Private sets are written 0600 and
// never overwrite an existing file; public sets are written 0644.
func (k *EdKeySet) WriteFile(filePath string) error {
	if len(k.Keys) == 0 {
		return fmt.Errorf("cannot write empty key set to file")
	}
	data, err := k.ToJSON()
	if err != nil {
		return err
	}

	perm := os.FileMode(0644)
	if k.Issuer != "" {
		perm = 0600
		if _, err := os.Stat(filePath); !os.IsNotExist(err) {
			return fmt.Errorf("file %s already exists, refusing to overwrite", filePath)
		}
	}
	return os.WriteFile(filePath, data, perm)
}

// EdKeySetFromJSON parses a key set.
func EdKeySetFromJSON(data []byte) (*EdKeySet, error) {
	var keySet EdKeySet
	if err := json.Unmarshal(data, &keySet); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key set: %w", err)
	}
	if len(keySet.Keys) == 0 {
		return nil, fmt.Errorf("key set has no keys")
	}
	if keySet.Issuer != "" && len(keySet.Keys) > 1 {
		return nil, fmt.Errorf("key set with issuer %s cannot contain multiple keys", keySet.Issuer)
	}
	return &keySet, nil
}

// EdKeySetFromFile reads a key set from disk.
func EdKeySetFromFile(filePath string) (*EdKeySet, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key set from file %s: %w", filePath, err)
	}
	return EdKeySetFromJSON(data)
}
