package license

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apierrors "licensetrust/internal/errors"
	"licensetrust/internal/ledger"
	"licensetrust/internal/security"
)

const modeRecovery Mode = "recovery"

// recover rebuilds a missing local record from the ledger entry whose bound
// hardware best matches this machine. Ties keep the first entry in ledger
// order. Any failure leaves the installation unactivated.
func (e *Engine) recover(ctx context.Context, now time.Time) Result {
	res := e.tryRecover(ctx, now)
	e.metrics.recordOutcome(ctx, modeRecovery, res)
	res.verdict = true
	return res
}

func (e *Engine) tryRecover(ctx context.Context, now time.Time) Result {
	unactivated := blocked(StateUnactivated, apierrors.ErrNotActivated, MsgNotActivated)

	hw, err := e.snapshot(ctx)
	if err != nil || hw.IsEmpty() {
		return unactivated
	}
	entries, err := e.ledgerList(ctx)
	if err != nil {
		e.logAction(ctx, slog.LevelInfo, "recovery", "ledger unreachable, recovery skipped",
			slog.String("error", err.Error()))
		return unactivated
	}

	best, score, found := bestMatch(entries, hw, e.policy.MatchThreshold)
	if !found {
		e.logAction(ctx, slog.LevelInfo, "recovery", "no ledger entry matches this machine",
			slog.Int("entries", len(entries)))
		return unactivated
	}
	e.logLicenseAction(ctx, slog.LevelInfo, "recovery", "ledger entry matches this machine",
		best.LicenseKey, "", slog.Float64("similarity", score), slog.String("status", best.Status))

	rec := &Record{
		LicenseKey:     best.LicenseKey,
		Tier:           TierStandard,
		LicenseeName:   best.LicenseeName,
		LicenseeEmail:  best.LicenseeEmail,
		Hardware:       hw,
		MatchThreshold: e.policy.MatchThreshold,
		ActivatedAt:    now,
		ExpiryDate:     cloneTime(best.ExpiryDate),
		TransferCount:  best.TransferCount,
		InstallationID: uuid.NewString(),
	}
	if tier := Tier(best.Tier); tier.Valid() {
		rec.Tier = tier
	}

	status := ledger.NormalizeStatus(best.Status)
	if status != ledger.StatusRevoked && rec.ExpiredAt(now) {
		status = ledger.StatusExpired
	}

	switch status {
	case ledger.StatusRevoked:
		rec.Status = StatusRevoked
		if err := e.save(ctx, rec, now); err != nil {
			return e.storeFailure(ctx, err)
		}
		e.record(ctx, now, EventRevocation, "recovered license "+maskLicenseKey(rec.LicenseKey)+" is revoked")
		return blocked(StateRevoked, apierrors.ErrRevoked, MsgRevoked)
	case ledger.StatusExpired:
		rec.Status = StatusExpired
		if err := e.save(ctx, rec, now); err != nil {
			return e.storeFailure(ctx, err)
		}
		return blocked(StateExpired, apierrors.ErrExpired, MsgExpired)
	case ledger.StatusActive, ledger.StatusPending:
		rec.Status = StatusActive
		rec.LastOnlineCheck = timePtr(now)
		rec.OfflineGraceUntil = now.Add(e.policy.GracePeriod)
		rec.ValidationSucceeded = true
		if err := e.save(ctx, rec, now); err != nil {
			return e.storeFailure(ctx, err)
		}
		e.record(ctx, now, EventRecovered, "license "+maskLicenseKey(rec.LicenseKey)+" recovered from ledger")
		e.syncBestEffort(ctx, rec, ledger.EventRecovery, now)

		res := valid(StateOnline, MsgRecovered)
		if rec.ExpiryDate != nil {
			res.ExpiryHint = cloneTime(rec.ExpiryDate)
			res.DaysRemaining = ceilDays(rec.ExpiryDate.Sub(now))
		}
		return res
	default:
		return unactivated
	}
}

// bestMatch returns the ledger entry with the highest similarity to hw that
// reaches threshold. Entries without bound hardware never match.
func bestMatch(entries []ledger.Entry, hw security.HardwareSnapshot, threshold float64) (ledger.Entry, float64, bool) {
	var (
		best      ledger.Entry
		bestScore float64
		found     bool
	)
	for _, entry := range entries {
		if entry.Hardware.IsEmpty() {
			continue
		}
		score := security.Similarity(entry.Hardware, hw)
		if score < threshold {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = entry, score, true
		}
	}
	return best, bestScore, found
}
