// Package ledger talks to the authoritative license ledger: the remote
// system of record that knows which keys exist, their status, expiry, and
// the machine each is bound to.
//
// Every adapter returns plain errors for transport failures. Callers treat
// any error, including a timeout, as "ledger unreachable".
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"licensetrust/internal/security"
)

// Ledger status values.
const (
	StatusActive   = "active"
	StatusRevoked  = "revoked"
	StatusExpired  = "expired"
	StatusPending  = "pending"
	StatusNotFound = "not_found"
)

// ErrUnavailable marks a ledger that cannot be reached or is not configured.
var ErrUnavailable = errors.New("license ledger unavailable")

// ValidateResponse is the ledger's verdict on a key for a machine.
type ValidateResponse struct {
	Valid         bool       `json:"valid"`
	Status        string     `json:"status"`
	Message       string     `json:"message,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	Tier          string     `json:"tier,omitempty"`
	LicenseeName  string     `json:"licensee_name,omitempty"`
	LicenseeEmail string     `json:"licensee_email,omitempty"`
	// Token is an optional signed license token for offline proof.
	Token string `json:"token,omitempty"`
}

// Entry is one license as listed by the ledger.
type Entry struct {
	LicenseKey    string                    `json:"license_key"`
	Status        string                    `json:"status"`
	Tier          string                    `json:"tier,omitempty"`
	LicenseeName  string                    `json:"licensee_name,omitempty"`
	LicenseeEmail string                    `json:"licensee_email,omitempty"`
	Hardware      security.HardwareSnapshot `json:"hardware"`
	ExpiryDate    *time.Time                `json:"expiry_date,omitempty"`
	TransferCount int                       `json:"transfer_count"`
	LastSeen      *time.Time                `json:"last_seen,omitempty"`
}

// EventType names the reason for an activation sync.
type EventType string

const (
	EventActivation EventType = "activation"
	EventTransfer   EventType = "transfer"
	EventRecovery   EventType = "recovery"
)

// ActivationEvent reports a local binding change to the ledger.
type ActivationEvent struct {
	Type          EventType                 `json:"type"`
	LicenseKey    string                    `json:"license_key"`
	Hardware      security.HardwareSnapshot `json:"hardware"`
	HWID          string                    `json:"hwid"`
	TransferCount int                       `json:"transfer_count"`
	At            time.Time                 `json:"at"`
}

// Client is the remote ledger.
type Client interface {
	Validate(ctx context.Context, licenseKey string, hw security.HardwareSnapshot) (ValidateResponse, error)
	GetAllLicenses(ctx context.Context) ([]Entry, error)
	// SyncActivation is best effort; callers log and ignore its error.
	SyncActivation(ctx context.Context, ev ActivationEvent) error
}

// NormalizeStatus lowercases a ledger status and maps synonyms.
func NormalizeStatus(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "available", "issued", "unused":
		return StatusPending
	case "activated", "valid":
		return StatusActive
	case "notfound", "not found", "unknown":
		return StatusNotFound
	default:
		return v
	}
}

// validateEntry applies the common ledger verdict to a stored entry.
func validateEntry(e Entry, now time.Time) ValidateResponse {
	resp := ValidateResponse{
		Status:        NormalizeStatus(e.Status),
		ExpiryDate:    e.ExpiryDate,
		Tier:          e.Tier,
		LicenseeName:  e.LicenseeName,
		LicenseeEmail: e.LicenseeEmail,
	}
	if resp.Status != StatusRevoked && e.ExpiryDate != nil && now.After(*e.ExpiryDate) {
		resp.Status = StatusExpired
	}
	switch resp.Status {
	case StatusActive, StatusPending:
		resp.Valid = true
		resp.Status = StatusActive
		resp.Message = "License valid"
	case StatusRevoked:
		resp.Message = "License revoked"
	case StatusExpired:
		resp.Message = "License expired"
	default:
		resp.Message = "License is not active"
	}
	return resp
}

func notFound() ValidateResponse {
	return ValidateResponse{Status: StatusNotFound, Message: "License key not found"}
}
