package license

import (
	"time"

	"licensetrust/internal/security"
)

// Status is the lifecycle status of a license as known to the ledger.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
	StatusPending Status = "pending"
)

// ParseStatus normalizes a ledger status string. Unknown values map to pending.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusActive, StatusRevoked, StatusExpired, StatusPending:
		return Status(s)
	}
	return StatusPending
}

// Record is the locally persisted license state of this installation.
type Record struct {
	LicenseKey          string                    `json:"license_key"`
	Status              Status                    `json:"license_status"`
	Tier                Tier                      `json:"license_tier"`
	LicenseeName        string                    `json:"licensee_name"`
	LicenseeEmail       string                    `json:"licensee_email"`
	Hardware            security.HardwareSnapshot `json:"hardware"`
	MatchThreshold      float64                   `json:"hardware_match_threshold"`
	ActivatedAt         time.Time                 `json:"activated_at"`
	LastOnlineCheck     *time.Time                `json:"last_online_check,omitempty"`
	OfflineGraceUntil   time.Time                 `json:"offline_grace_until"`
	ExpiryDate          *time.Time                `json:"expiry_date,omitempty"`
	TransferCount       int                       `json:"transfer_count"`
	LastTransferAt      *time.Time                `json:"last_transfer_at,omitempty"`
	ManualVerifyCount   int                       `json:"manual_verification_count"`
	ManualVerifyResetAt time.Time                 `json:"manual_verification_reset_at"`
	ValidationSucceeded bool                      `json:"validation_succeeded"`
	SignedToken         string                    `json:"signed_token,omitempty"`
	InstallationID      string                    `json:"installation_id"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

// Threshold returns the match threshold, falling back to the default.
func (r *Record) Threshold() float64 {
	if r.MatchThreshold <= 0 || r.MatchThreshold > 1 {
		return security.DefaultMatchThreshold
	}
	return r.MatchThreshold
}

// IsRevoked reports whether the record is revoked.
func (r *Record) IsRevoked() bool { return r.Status == StatusRevoked }

// ExpiredAt reports whether the expiry date has passed at now.
func (r *Record) ExpiredAt(now time.Time) bool {
	return r.ExpiryDate != nil && now.After(*r.ExpiryDate)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.LastOnlineCheck = cloneTime(r.LastOnlineCheck)
	c.ExpiryDate = cloneTime(r.ExpiryDate)
	c.LastTransferAt = cloneTime(r.LastTransferAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time { return &t }
