package license

import (
	"context"
	"time"
)

// Display values for the license badge.
const (
	DisplayOnline      = "online"
	DisplayOffline     = "offline"
	DisplayBlocked     = "blocked"
	DisplayUnactivated = "unactivated"
)

// Summary is a read-only view of the license for UIs. It never contacts
// the ledger.
type Summary struct {
	Display         string     `json:"display"`
	State           State      `json:"state,omitempty"`
	Message         string     `json:"message,omitempty"`
	LicenseKey      string     `json:"license_key,omitempty"`
	Tier            Tier       `json:"tier,omitempty"`
	LicenseeName    string     `json:"licensee_name,omitempty"`
	Status          Status     `json:"license_status,omitempty"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
	GraceUntil      *time.Time `json:"offline_grace_until,omitempty"`
	LastOnlineCheck *time.Time `json:"last_online_check,omitempty"`
	TransferCount   int        `json:"transfer_count"`
	HWID            string     `json:"hwid,omitempty"`
	ManualRemaining int        `json:"manual_verifications_remaining"`
	ManualResetAt   time.Time  `json:"manual_verifications_reset_at"`
}

// Status summarizes the stored record and the last operation result.
func (e *Engine) Status(ctx context.Context) (Summary, error) {
	e.mu.Lock()
	now := e.clock.Now()
	rec, _, err := e.load(ctx)
	e.mu.Unlock()
	if err != nil {
		return Summary{}, err
	}

	left, resetAt, err := e.ManualRemaining(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Display: DisplayUnactivated, ManualRemaining: left, ManualResetAt: resetAt}
	if rec == nil {
		return sum, nil
	}

	sum.LicenseKey = maskLicenseKey(rec.LicenseKey)
	sum.Tier = rec.Tier
	sum.LicenseeName = rec.LicenseeName
	sum.Status = rec.Status
	sum.ExpiryDate = cloneTime(rec.ExpiryDate)
	if !rec.OfflineGraceUntil.IsZero() {
		sum.GraceUntil = timePtr(rec.OfflineGraceUntil)
	}
	sum.LastOnlineCheck = cloneTime(rec.LastOnlineCheck)
	sum.TransferCount = rec.TransferCount
	if !rec.Hardware.IsEmpty() {
		sum.HWID = rec.Hardware.HWID()
	}

	if last, ok := e.LastEvent(); ok {
		sum.State = last.Result.State
		sum.Message = last.Result.Message
		sum.Display = displayFor(last.Result)
		return sum, nil
	}

	switch {
	case rec.IsRevoked(), rec.Status == StatusExpired, rec.ExpiredAt(now):
		sum.Display = DisplayBlocked
	case !now.After(rec.OfflineGraceUntil):
		sum.Display = DisplayOffline
	default:
		sum.Display = DisplayBlocked
	}
	return sum, nil
}

func displayFor(res Result) string {
	switch res.State {
	case StateOnline, StateTransferred:
		return DisplayOnline
	case StateOfflineGrace:
		return DisplayOffline
	case StateUnactivated:
		return DisplayUnactivated
	default:
		if res.Valid {
			return DisplayOnline
		}
		return DisplayBlocked
	}
}
