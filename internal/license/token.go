package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apierrors "licensetrust/internal/errors"
)

// SupportedTokenVersion is the highest token payload version this build accepts.
const SupportedTokenVersion = 1

// Tier is the commercial edition a license grants.
type Tier string

const (
	TierDeveloper Tier = "developer"
	TierPremium   Tier = "premium"
	TierStandard  Tier = "standard"
	TierFreeTrial Tier = "free_trial"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierDeveloper, TierPremium, TierStandard, TierFreeTrial:
		return true
	}
	return false
}

// Tiers lists every known tier.
func Tiers() []Tier {
	return []Tier{TierDeveloper, TierPremium, TierStandard, TierFreeTrial}
}

// Token is the signed license claim. Field order fixes the JSON layout.
type Token struct {
	Version    int    `json:"v"`
	LicenseKey string `json:"key"`
	HWID       string `json:"hwid"`
	Tier       Tier   `json:"tier"`
	ExpiresAt  int64  `json:"exp"`
	IssuedAt   int64  `json:"iat"`
}

// Expiry returns the expiry as a time.
func (t Token) Expiry() time.Time { return time.Unix(t.ExpiresAt, 0).UTC() }

// Issued returns the issue time.
func (t Token) Issued() time.Time { return time.Unix(t.IssuedAt, 0).UTC() }

// ExpiredAt reports whether the token is past its expiry at now.
func (t Token) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt > 0 && !now.Before(t.Expiry())
}

var b64 = base64.RawURLEncoding

// Codec signs and verifies compact tokens of the form
// base64url(payload) "." base64url(signature). The signature covers the
// encoded payload text, not the decoded JSON.
type Codec struct {
	privateKey ed25519.PrivateKey
	publicKeys []ed25519.PublicKey
}

// NewCodec builds a codec. Either key may be nil; a nil private key makes
// the codec verify-only.
func NewCodec(privateKey ed25519.PrivateKey, publicKeys ...ed25519.PublicKey) *Codec {
	c := &Codec{privateKey: privateKey}
	for _, pk := range publicKeys {
		if len(pk) == ed25519.PublicKeySize {
			c.publicKeys = append(c.publicKeys, pk)
		}
	}
	if len(c.publicKeys) == 0 && len(privateKey) == ed25519.PrivateKeySize {
		c.publicKeys = []ed25519.PublicKey{privateKey.Public().(ed25519.PublicKey)}
	}
	return c
}

// NewCodecFromKeySets builds a codec from JWK sets. Either set may be nil.
func NewCodecFromKeySets(public, private *EdKeySet) (*Codec, error) {
	var (
		priv ed25519.PrivateKey
		pubs []ed25519.PublicKey
		err  error
	)
	if private != nil {
		if priv, err = private.PrivateKey(); err != nil {
			return nil, apierrors.Configuration("private key set: %v", err)
		}
	}
	if public != nil {
		if pubs, err = public.PublicKeys(); err != nil {
			return nil, apierrors.Configuration("public key set: %v", err)
		}
	}
	return NewCodec(priv, pubs...), nil
}

// CanSign reports whether a private key is configured.
func (c *Codec) CanSign() bool {
	return c != nil && len(c.privateKey) == ed25519.PrivateKeySize
}

// CanVerify reports whether at least one public key is configured.
func (c *Codec) CanVerify() bool {
	return c != nil && len(c.publicKeys) > 0
}

// Sign encodes and signs a token.
func (c *Codec) Sign(t Token) (string, error) {
	if !c.CanSign() {
		return "", apierrors.Configuration("token signing key not configured")
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return "", apierrors.NewLicenseError(apierrors.ErrInvalidPayload, "token payload not encodable", err)
	}
	encoded := b64.EncodeToString(payload)
	sig := ed25519.Sign(c.privateKey, []byte(encoded))
	return encoded + "." + b64.EncodeToString(sig), nil
}

// Verify checks the signature and decodes the payload.
func (c *Codec) Verify(token string) (Token, error) {
	if !c.CanVerify() {
		return Token{}, apierrors.Configuration("token verification key not configured")
	}

	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Token{}, apierrors.NewLicenseError(apierrors.ErrInvalidPayload, "malformed token", nil)
	}

	sig, err := b64.DecodeString(parts[1])
	if err != nil || len(sig) != ed25519.SignatureSize {
		return Token{}, apierrors.NewLicenseError(apierrors.ErrInvalidSignature, "malformed token signature", err)
	}
	if !c.verifyAny([]byte(parts[0]), sig) {
		return Token{}, apierrors.NewLicenseError(apierrors.ErrInvalidSignature, "token signature does not verify", nil)
	}

	raw, err := b64.DecodeString(parts[0])
	if err != nil {
		return Token{}, apierrors.NewLicenseError(apierrors.ErrInvalidPayload, "token payload not base64url", err)
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, apierrors.NewLicenseError(apierrors.ErrInvalidPayload, "token payload not JSON", err)
	}
	if t.Version < 1 || t.Version > SupportedTokenVersion {
		return Token{}, apierrors.NewLicenseError(apierrors.ErrInvalidPayload,
			fmt.Sprintf("unsupported token version %d", t.Version), nil)
	}
	if !t.Tier.Valid() {
		return Token{}, apierrors.NewLicenseError(apierrors.ErrInvalidPayload,
			fmt.Sprintf("unknown tier %q", t.Tier), nil)
	}
	if t.LicenseKey == "" {
		return Token{}, apierrors.NewLicenseError(apierrors.ErrInvalidPayload, "token has no license key", nil)
	}
	return t, nil
}

func (c *Codec) verifyAny(msg, sig []byte) bool {
	for _, pk := range c.publicKeys {
		if ed25519.Verify(pk, msg, sig) {
			return true
		}
	}
	return false
}
