package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apierrors "licensetrust/internal/errors"
	"licensetrust/internal/ledger"
	"licensetrust/internal/security"
)

// ValidateStartup runs the full check performed when the application starts:
// online validation, offline fallback with clock-rollback detection, and
// auto-recovery when no local record exists.
func (e *Engine) ValidateStartup(ctx context.Context) Result {
	return e.run(ctx, ModeStartup, func(ctx context.Context, now time.Time) Result {
		rec, tampered, err := e.load(ctx)
		if err != nil {
			return e.storeFailure(ctx, err)
		}
		if rec == nil {
			return e.recover(ctx, now)
		}
		return e.check(ctx, ModeStartup, rec, tampered, now)
	})
}

// ValidateBackground is the periodic check. It skips clock-rollback
// detection and never attempts recovery.
func (e *Engine) ValidateBackground(ctx context.Context) Result {
	return e.run(ctx, ModeBackground, func(ctx context.Context, now time.Time) Result {
		rec, tampered, err := e.load(ctx)
		if err != nil {
			return e.storeFailure(ctx, err)
		}
		if rec == nil {
			return blocked(StateUnactivated, apierrors.ErrNotActivated, MsgNotActivated)
		}
		return e.check(ctx, ModeBackground, rec, tampered, now)
	})
}

// ValidateManual is the user-triggered "verify now". It is limited to
// Policy.ManualDailyLimit calls per calendar day in Policy.ResetLocation.
func (e *Engine) ValidateManual(ctx context.Context) Result {
	return e.run(ctx, ModeManual, func(ctx context.Context, now time.Time) Result {
		rec, tampered, err := e.load(ctx)
		if err != nil {
			return e.storeFailure(ctx, err)
		}
		if rec == nil {
			return blocked(StateUnactivated, apierrors.ErrNotActivated, MsgNotActivated)
		}

		if tampered {
			e.resetManualCounter(rec, now)
		}
		if !now.Before(rec.ManualVerifyResetAt) {
			rec.ManualVerifyCount = 0
			rec.ManualVerifyResetAt = nextMidnight(now, e.policy.ResetLocation)
		}
		if rec.ManualVerifyCount >= e.policy.ManualDailyLimit {
			e.record(ctx, now, EventRateLimitExceeded,
				fmt.Sprintf("manual verification refused until %s", rec.ManualVerifyResetAt.Format(time.RFC3339)))
			res := blocked(StateRateLimited, apierrors.ErrRateLimitExceeded,
				fmt.Sprintf("Verification limit reached (%d/day)", e.policy.ManualDailyLimit))
			res.RetryAt = timePtr(rec.ManualVerifyResetAt)
			return res
		}

		rec.ManualVerifyCount++
		// a tampered record is not re-sealed until the ledger vouches for it
		if !tampered {
			if err := e.save(ctx, rec, now); err != nil {
				return e.storeFailure(ctx, err)
			}
		}
		return e.check(ctx, ModeManual, rec, tampered, now)
	})
}

// ManualRemaining reports how many manual verifications are left today and
// when the counter resets.
func (e *Engine) ManualRemaining(ctx context.Context) (int, time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	rec, _, err := e.load(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	if rec == nil || !now.Before(rec.ManualVerifyResetAt) {
		return e.policy.ManualDailyLimit, nextMidnight(now, e.policy.ResetLocation), nil
	}
	left := e.policy.ManualDailyLimit - rec.ManualVerifyCount
	if left < 0 {
		left = 0
	}
	return left, rec.ManualVerifyResetAt, nil
}

// check validates an existing record: hardware binding, then the ledger,
// then the offline fallback when the ledger is unreachable.
func (e *Engine) check(ctx context.Context, mode Mode, rec *Record, tampered bool, now time.Time) Result {
	res := e.evaluate(ctx, mode, rec, tampered, now)
	res.verdict = true
	return res
}

func (e *Engine) evaluate(ctx context.Context, mode Mode, rec *Record, tampered bool, now time.Time) Result {
	if tampered {
		e.record(ctx, now, EventRecordTampered, "license record seal does not verify")
	}

	hw, err := e.snapshot(ctx)
	if err != nil {
		e.logAction(ctx, slog.LevelError, "hardware_snapshot", "hardware snapshot unavailable",
			slog.String("error", err.Error()))
		return blocked(StateError, apierrors.ErrConfiguration, MsgHardwareUnreadable)
	}
	matched, score := security.MatchStored(rec.Hardware, hw, rec.Threshold())
	e.metrics.recordSimilarity(ctx, score)
	if !matched {
		e.logLicenseAction(ctx, slog.LevelWarn, "hardware_check", "hardware mismatch",
			rec.LicenseKey, "", slog.Float64("similarity", score), slog.Float64("threshold", rec.Threshold()))
		return blocked(StateHardwareMismatch, apierrors.ErrHardwareMismatch, MsgHardwareMismatch)
	}

	resp, err := e.ledgerValidate(ctx, rec.LicenseKey, hw)
	if err != nil {
		e.logLicenseAction(ctx, slog.LevelWarn, "ledger_validate", "ledger unreachable, using offline fallback",
			rec.LicenseKey, "", slog.String("error", err.Error()))
		return e.offline(ctx, mode, rec, tampered, now)
	}
	return e.online(ctx, rec, tampered, hw, resp, now)
}

// online applies a ledger verdict to the record. A tampered record is only
// re-sealed once every field an attacker could extend has been rebuilt from
// the ledger or from now.
func (e *Engine) online(ctx context.Context, rec *Record, tampered bool, hw security.HardwareSnapshot, resp ledger.ValidateResponse, now time.Time) Result {
	if !resp.Valid {
		rec.ValidationSucceeded = false
		terminal := true
		switch ledger.NormalizeStatus(resp.Status) {
		case ledger.StatusRevoked:
			rec.Status = StatusRevoked
			e.record(ctx, now, EventRevocation, "ledger reports license "+maskLicenseKey(rec.LicenseKey)+" revoked")
		case ledger.StatusExpired:
			rec.Status = StatusExpired
			applyLedgerIdentity(rec, resp)
		default:
			terminal = false
		}
		if tampered {
			if !terminal {
				return rejection(resp)
			}
			rec.OfflineGraceUntil = now
			rec.SignedToken = ""
		}
		if err := e.save(ctx, rec, now); err != nil {
			return e.storeFailure(ctx, err)
		}
		return rejection(resp)
	}

	rec.Status = StatusActive
	rec.ValidationSucceeded = true
	rec.LastOnlineCheck = timePtr(now)
	rec.OfflineGraceUntil = now.Add(e.policy.GracePeriod)
	if rec.Hardware.IsEmpty() && !hw.IsEmpty() {
		rec.Hardware = hw
	}
	if tampered {
		rec.ExpiryDate = nil
		e.resetManualCounter(rec, now)
	}
	applyLedgerIdentity(rec, resp)
	if token := e.acceptToken(ctx, resp.Token, rec); token != "" || tampered {
		rec.SignedToken = token
	}
	if err := e.save(ctx, rec, now); err != nil {
		return e.storeFailure(ctx, err)
	}

	res := valid(StateOnline, MsgLicenseValid)
	if rec.ExpiryDate != nil {
		res.ExpiryHint = cloneTime(rec.ExpiryDate)
		res.DaysRemaining = ceilDays(rec.ExpiryDate.Sub(now))
	}
	return res
}

// offline decides from local state alone. Order matters: revocation
// dominates everything, then a broken seal and clock rollback, then expiry,
// then grace. Background checks skip rollback detection only.
func (e *Engine) offline(ctx context.Context, mode Mode, rec *Record, tampered bool, now time.Time) Result {
	if rec.IsRevoked() {
		return blocked(StateRevoked, apierrors.ErrRevoked, MsgRevoked)
	}

	if tampered {
		return blocked(StateTimeTamper, apierrors.ErrTimeTamperDetected, MsgUnableToVerify)
	}
	if mode != ModeBackground {
		if rec.LastOnlineCheck != nil && now.Before(rec.LastOnlineCheck.Add(-e.policy.TamperTolerance)) {
			e.record(ctx, now, EventTimeTamper, fmt.Sprintf("clock %s is before last online check %s",
				now.Format(time.RFC3339), rec.LastOnlineCheck.Format(time.RFC3339)))
			return blocked(StateTimeTamper, apierrors.ErrTimeTamperDetected, MsgUnableToVerify)
		}
	}

	if rec.Status == StatusExpired || rec.ExpiredAt(now) {
		if rec.Status != StatusExpired && !tampered {
			rec.Status = StatusExpired
			if err := e.save(ctx, rec, now); err != nil {
				return e.storeFailure(ctx, err)
			}
		}
		res := blocked(StateExpired, apierrors.ErrExpired, MsgExpired)
		res.ExpiryHint = cloneTime(rec.ExpiryDate)
		return res
	}

	if res, ok := e.checkStoredToken(rec, now); !ok {
		return res
	}

	if !now.After(rec.OfflineGraceUntil) {
		days := ceilDays(rec.OfflineGraceUntil.Sub(now))
		res := valid(StateOfflineGrace,
			fmt.Sprintf("Offline mode: %d day(s) remaining before online verification is required", days))
		res.ExpiryHint = timePtr(rec.OfflineGraceUntil)
		res.DaysRemaining = days
		return res
	}

	res := blocked(StateGraceExpired, apierrors.ErrGraceExpired, MsgGraceExpired)
	res.ExpiryHint = timePtr(rec.OfflineGraceUntil)
	return res
}

// checkStoredToken verifies the offline proof kept from the last online
// validation. Records without a token, or engines without a public key,
// skip this check.
func (e *Engine) checkStoredToken(rec *Record, now time.Time) (Result, bool) {
	if rec.SignedToken == "" || !e.codec.CanVerify() {
		return Result{}, true
	}
	t, err := e.codec.Verify(rec.SignedToken)
	if err != nil {
		return blocked(StateError, apierrors.KindOf(err), MsgUnableToVerify), false
	}
	if t.LicenseKey != rec.LicenseKey || t.HWID != rec.Hardware.HWID() {
		return blocked(StateHardwareMismatch, apierrors.ErrHardwareMismatch, MsgHardwareMismatch), false
	}
	if t.ExpiredAt(now) {
		res := blocked(StateExpired, apierrors.ErrExpired, MsgExpired)
		res.ExpiryHint = timePtr(t.Expiry())
		return res, false
	}
	return Result{}, true
}

// resetManualCounter clamps a manual-verification counter that cannot be
// trusted: the count never goes below zero and the reset never lies beyond
// the next midnight.
func (e *Engine) resetManualCounter(rec *Record, now time.Time) {
	if rec.ManualVerifyCount < 0 {
		rec.ManualVerifyCount = 0
	}
	if next := nextMidnight(now, e.policy.ResetLocation); rec.ManualVerifyResetAt.After(next) {
		rec.ManualVerifyResetAt = next
	}
}

// nextMidnight returns the first midnight in loc strictly after now.
func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc).UTC()
}
