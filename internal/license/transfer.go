package license

import (
	"context"
	"log/slog"
	"strings"
	"time"

	apierrors "licensetrust/internal/errors"
	"licensetrust/internal/ledger"
)

// RequestTransfer rebinds the activated license to this machine when the
// caller proves ownership with the licensee email. The local email is used
// when known and trusted; otherwise the ledger's email is fetched. An
// approved transfer then runs the full validation on the new binding and
// only reports transferred when that validation passes.
func (e *Engine) RequestTransfer(ctx context.Context, licenseKey, email string) Result {
	licenseKey = strings.TrimSpace(licenseKey)

	return e.run(ctx, ModeTransfer, func(ctx context.Context, now time.Time) Result {
		rec, tampered, err := e.load(ctx)
		if err != nil {
			return e.storeFailure(ctx, err)
		}
		if rec == nil {
			return blocked(StateUnactivated, apierrors.ErrNotActivated, MsgNotActivated)
		}
		if rec.LicenseKey != licenseKey {
			e.record(ctx, now, EventTransferDenied, "license key mismatch for "+maskLicenseKey(licenseKey))
			return blocked(StateTransferDenied, apierrors.ErrTransferDenied, MsgKeyMismatch)
		}
		if rec.IsRevoked() {
			e.record(ctx, now, EventTransferDenied, "license "+maskLicenseKey(licenseKey)+" is revoked")
			return blocked(StateRevoked, apierrors.ErrRevoked, MsgRevoked)
		}

		expected := rec.LicenseeEmail
		if expected == "" || tampered {
			owner, res, ok := e.ledgerOwnerEmail(ctx, licenseKey)
			if !ok {
				return res
			}
			expected = owner
		}

		if !sameEmail(expected, email) {
			e.record(ctx, now, EventTransferDenied, "email mismatch for "+maskLicenseKey(licenseKey))
			e.logLicenseAction(ctx, slog.LevelWarn, "transfer", "transfer denied", licenseKey, email)
			return blocked(StateTransferDenied, apierrors.ErrTransferDenied, MsgTransferDenied)
		}

		hw, err := e.snapshot(ctx)
		if err != nil || hw.IsEmpty() {
			return blocked(StateError, apierrors.ErrConfiguration, MsgHardwareUnreadable)
		}

		rec.Hardware = hw
		rec.TransferCount++
		rec.LastTransferAt = timePtr(now)
		if rec.LicenseeEmail == "" {
			rec.LicenseeEmail = strings.TrimSpace(email)
		}
		// the old token names the previous machine
		rec.SignedToken = ""
		// a tampered record is only written back by a successful online check
		if !tampered {
			if err := e.save(ctx, rec, now); err != nil {
				return e.storeFailure(ctx, err)
			}
		}

		e.record(ctx, now, EventTransferApproved, "license "+maskLicenseKey(licenseKey)+" moved to "+hw.HWID()[:16])
		e.logLicenseAction(ctx, slog.LevelInfo, "transfer", "transfer approved", licenseKey, email,
			slog.Int("transfer_count", rec.TransferCount))
		e.syncBestEffort(ctx, rec, ledger.EventTransfer, now)

		// the new binding still has to pass every other check
		res := e.check(ctx, ModeTransfer, rec, tampered, now)
		if !res.Valid {
			return res
		}
		out := valid(StateTransferred, MsgTransferred)
		out.ExpiryHint = res.ExpiryHint
		out.DaysRemaining = res.DaysRemaining
		out.verdict = true
		return out
	})
}

func (e *Engine) ledgerOwnerEmail(ctx context.Context, licenseKey string) (string, Result, bool) {
	entries, err := e.ledgerList(ctx)
	if err != nil {
		return "", networkFailure(), false
	}
	for _, entry := range entries {
		if entry.LicenseKey == licenseKey {
			return entry.LicenseeEmail, Result{}, true
		}
	}
	return "", blocked(StateRejected, apierrors.ErrLicenseRejected, "License key not found"), false
}

func sameEmail(expected, given string) bool {
	expected = strings.TrimSpace(expected)
	given = strings.TrimSpace(given)
	return expected != "" && strings.EqualFold(expected, given)
}
