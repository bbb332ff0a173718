package license

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apierrors "licensetrust/internal/errors"
	"licensetrust/internal/ledger"
)

// Activate binds licenseKey to this machine after the ledger accepts it.
// Nothing is written when the ledger rejects the key or cannot be reached.
func (e *Engine) Activate(ctx context.Context, licenseKey, name, email string) Result {
	licenseKey = strings.TrimSpace(licenseKey)
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	return e.run(ctx, ModeActivation, func(ctx context.Context, now time.Time) Result {
		if licenseKey == "" {
			return blocked(StateRejected, apierrors.ErrLicenseRejected, "License key is required")
		}

		hw, err := e.snapshot(ctx)
		if err != nil {
			e.logAction(ctx, slog.LevelError, "hardware_snapshot", "hardware snapshot unavailable",
				slog.String("error", err.Error()))
			return blocked(StateError, apierrors.ErrConfiguration, MsgHardwareUnreadable)
		}

		resp, err := e.ledgerValidate(ctx, licenseKey, hw)
		if err != nil {
			e.logLicenseAction(ctx, slog.LevelWarn, "activation", "ledger unreachable", licenseKey, email,
				slog.String("error", err.Error()))
			return networkFailure()
		}
		if !resp.Valid {
			e.logLicenseAction(ctx, slog.LevelWarn, "activation", "ledger rejected activation", licenseKey, email,
				slog.String("status", resp.Status))
			return rejection(resp)
		}

		prev, _, err := e.load(ctx)
		if err != nil {
			return e.storeFailure(ctx, err)
		}

		rec := &Record{
			LicenseKey:          licenseKey,
			Status:              StatusActive,
			Tier:                TierStandard,
			LicenseeName:        name,
			LicenseeEmail:       email,
			Hardware:            hw,
			MatchThreshold:      e.policy.MatchThreshold,
			ActivatedAt:         now,
			LastOnlineCheck:     timePtr(now),
			OfflineGraceUntil:   now.Add(e.policy.GracePeriod),
			ValidationSucceeded: true,
			InstallationID:      uuid.NewString(),
		}
		if prev != nil {
			rec.InstallationID = prev.InstallationID
			if prev.LicenseKey == licenseKey {
				rec.TransferCount = prev.TransferCount
				rec.LastTransferAt = cloneTime(prev.LastTransferAt)
				rec.ManualVerifyCount = prev.ManualVerifyCount
				rec.ManualVerifyResetAt = prev.ManualVerifyResetAt
			}
		}
		applyLedgerIdentity(rec, resp)
		if name != "" {
			rec.LicenseeName = name
		}
		if email != "" {
			rec.LicenseeEmail = email
		}
		rec.SignedToken = e.acceptToken(ctx, resp.Token, rec)

		if err := e.save(ctx, rec, now); err != nil {
			return e.storeFailure(ctx, err)
		}
		e.record(ctx, now, EventActivated, "license "+maskLicenseKey(licenseKey)+" activated on "+rec.Hardware.HWID()[:16])
		e.logLicenseAction(ctx, slog.LevelInfo, "activation", "license activated", licenseKey, rec.LicenseeEmail,
			slog.String("tier", string(rec.Tier)))
		e.syncBestEffort(ctx, rec, ledger.EventActivation, now)

		res := valid(StateOnline, MsgActivated)
		if rec.ExpiryDate != nil {
			res.ExpiryHint = cloneTime(rec.ExpiryDate)
			res.DaysRemaining = ceilDays(rec.ExpiryDate.Sub(now))
		}
		return res
	})
}
