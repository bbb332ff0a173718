package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apierrors "licensetrust/internal/errors"
	"licensetrust/internal/ledger"
	"licensetrust/internal/security"
)

// Policy holds the engine's tunable limits.
type Policy struct {
	GracePeriod      time.Duration
	TamperTolerance  time.Duration
	ManualDailyLimit int
	// ResetLocation is the zone whose midnight resets the manual counter.
	ResetLocation  *time.Location
	MatchThreshold float64
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		GracePeriod:      7 * 24 * time.Hour,
		TamperTolerance:  5 * time.Minute,
		ManualDailyLimit: 3,
		ResetLocation:    time.UTC,
		MatchThreshold:   security.DefaultMatchThreshold,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.GracePeriod <= 0 {
		p.GracePeriod = d.GracePeriod
	}
	if p.TamperTolerance <= 0 {
		p.TamperTolerance = d.TamperTolerance
	}
	if p.ManualDailyLimit <= 0 {
		p.ManualDailyLimit = d.ManualDailyLimit
	}
	if p.ResetLocation == nil {
		p.ResetLocation = d.ResetLocation
	}
	if p.MatchThreshold <= 0 || p.MatchThreshold > 1 {
		p.MatchThreshold = d.MatchThreshold
	}
	return p
}

// Options wires the engine's collaborators. Store, Ledger and Collector are
// required.
type Options struct {
	Store     Store
	Ledger    ledger.Client
	Collector security.Collector
	Audit     AuditLog
	Clock     Clock
	Codec     *Codec
	Policy    Policy
	Metrics   *Metrics
	Logger    *slog.Logger
}

// StatusEvent is published after every engine operation.
type StatusEvent struct {
	Mode   Mode      `json:"mode"`
	Result Result    `json:"result"`
	At     time.Time `json:"at"`
}

// Engine is the license trust engine. A single mutex serializes every
// read-decide-write cycle against the store.
type Engine struct {
	mu sync.Mutex

	store     Store
	ledger    ledger.Client
	collector security.Collector
	audit     AuditLog
	clock     Clock
	codec     *Codec
	policy    Policy
	metrics   *Metrics
	logger    *slog.Logger

	listenerMu sync.RWMutex
	listeners  []func(StatusEvent)
	last       *StatusEvent
}

// NewEngine validates options and builds an engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, apierrors.Configuration("license store is required")
	}
	if opts.Ledger == nil {
		return nil, apierrors.Configuration("license ledger is required")
	}
	if opts.Collector == nil {
		return nil, apierrors.Configuration("hardware collector is required")
	}
	if opts.Audit == nil {
		opts.Audit = NewMemoryAuditLog()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{
		store:     opts.Store,
		ledger:    opts.Ledger,
		collector: opts.Collector,
		audit:     opts.Audit,
		clock:     opts.Clock,
		codec:     opts.Codec,
		policy:    opts.Policy.withDefaults(),
		metrics:   opts.Metrics,
		logger:    opts.Logger.With(slog.String("component", "license_engine")),
	}, nil
}

// Policy returns the effective policy.
func (e *Engine) Policy() Policy { return e.policy }

// Subscribe registers fn to receive every status event.
func (e *Engine) Subscribe(fn func(StatusEvent)) {
	e.listenerMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenerMu.Unlock()
}

// LastEvent returns the most recent status event, if any.
func (e *Engine) LastEvent() (StatusEvent, bool) {
	e.listenerMu.RLock()
	defer e.listenerMu.RUnlock()
	if e.last == nil {
		return StatusEvent{}, false
	}
	return *e.last, true
}

// run executes one engine operation: span, lock, metrics, logging, publish.
// Listeners are invoked after the lock is released.
func (e *Engine) run(ctx context.Context, mode Mode, op func(ctx context.Context, now time.Time) Result) Result {
	ctx, span := startSpan(ctx, mode)
	start := time.Now()

	e.mu.Lock()
	now := e.clock.Now()
	res := op(ctx, now)
	e.mu.Unlock()

	res.Mode = mode
	endSpan(span, res)
	switch mode {
	case ModeActivation, ModeTransfer:
		e.metrics.recordOutcome(ctx, mode, res)
	default:
		e.metrics.recordValidation(ctx, mode, res, time.Since(start))
	}
	e.logAction(ctx, levelFor(res), string(mode), res.Message,
		slog.String("state", string(res.State)),
		slog.Bool("valid", res.Valid),
		slog.Int("days_remaining", res.DaysRemaining),
		slog.Duration("duration", time.Since(start)),
	)
	e.publish(StatusEvent{Mode: mode, Result: res, At: now})
	return res
}

func (e *Engine) publish(ev StatusEvent) {
	e.listenerMu.Lock()
	if adoptsVerdict(ev, e.last) {
		e.last = &ev
	}
	listeners := append([]func(StatusEvent){}, e.listeners...)
	e.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// adoptsVerdict decides whether ev replaces prev as the verdict the gate
// enforces. Side operations only count when they re-validated the license,
// and background checks may close the gate but only reopen it online.
func adoptsVerdict(ev StatusEvent, prev *StatusEvent) bool {
	res := ev.Result
	// a refused manual check says nothing about the license itself
	if res.State == StateRateLimited {
		return false
	}
	switch ev.Mode {
	case ModeActivation:
		return res.Valid
	case ModeTransfer:
		return res.verdict
	case ModeBackground:
		if res.Valid && res.State != StateOnline && prev != nil && prev.Result.Blocked() {
			return false
		}
	}
	return true
}

// load reads the record. tampered is set when the seal does not verify.
func (e *Engine) load(ctx context.Context) (rec *Record, tampered bool, err error) {
	rec, err = e.store.Load(ctx)
	if errors.Is(err, ErrRecordTampered) && rec != nil {
		return rec, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

func (e *Engine) save(ctx context.Context, rec *Record, now time.Time) error {
	rec.UpdatedAt = now
	if err := e.store.Save(ctx, rec); err != nil {
		e.logAction(ctx, slog.LevelError, "store_save", "failed to persist license record",
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (e *Engine) storeFailure(ctx context.Context, err error) Result {
	e.logAction(ctx, slog.LevelError, "store_load", "license store unavailable",
		slog.String("error", err.Error()))
	return blocked(StateError, apierrors.ErrStore, MsgUnableToVerify)
}

// record appends an audit event. Audit failures are logged, never surfaced.
func (e *Engine) record(ctx context.Context, now time.Time, kind EventKind, msg string) {
	e.metrics.recordSecurityEvent(ctx, kind)
	if err := e.audit.Append(ctx, Event{Timestamp: now, Kind: kind, Message: msg}); err != nil {
		e.logAction(ctx, slog.LevelError, "audit_write", "failed to write audit event",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) snapshot(ctx context.Context) (security.HardwareSnapshot, error) {
	hw, err := e.collector.Snapshot(ctx)
	if err != nil {
		return security.HardwareSnapshot{}, fmt.Errorf("collect hardware snapshot: %w", err)
	}
	return hw, nil
}

func (e *Engine) ledgerValidate(ctx context.Context, key string, hw security.HardwareSnapshot) (ledger.ValidateResponse, error) {
	start := time.Now()
	resp, err := e.ledger.Validate(ctx, key, hw)
	e.metrics.recordLedgerCall(ctx, "validate", time.Since(start), err)
	return resp, err
}

func (e *Engine) ledgerList(ctx context.Context) ([]ledger.Entry, error) {
	start := time.Now()
	entries, err := e.ledger.GetAllLicenses(ctx)
	e.metrics.recordLedgerCall(ctx, "list", time.Since(start), err)
	return entries, err
}

// syncBestEffort reports a binding change; failures are only logged.
func (e *Engine) syncBestEffort(ctx context.Context, rec *Record, typ ledger.EventType, now time.Time) {
	ev := ledger.ActivationEvent{
		Type:          typ,
		LicenseKey:    rec.LicenseKey,
		Hardware:      rec.Hardware,
		HWID:          rec.Hardware.HWID(),
		TransferCount: rec.TransferCount,
		At:            now,
	}
	start := time.Now()
	err := e.ledger.SyncActivation(ctx, ev)
	e.metrics.recordLedgerCall(ctx, "sync", time.Since(start), err)
	if err != nil {
		e.logLicenseAction(ctx, slog.LevelWarn, "ledger_sync", "activation sync failed",
			rec.LicenseKey, "", slog.String("event", string(typ)), slog.String("error", err.Error()))
	}
}

// acceptToken verifies a ledger-issued token against the bound hardware and
// returns it for storage, or "" when it must not be kept.
func (e *Engine) acceptToken(ctx context.Context, token string, rec *Record) string {
	if token == "" || !e.codec.CanVerify() {
		return ""
	}
	t, err := e.codec.Verify(token)
	if err != nil {
		e.logLicenseAction(ctx, slog.LevelWarn, "token_verify", "ledger token rejected",
			rec.LicenseKey, "", slog.String("error", err.Error()))
		return ""
	}
	if t.LicenseKey != rec.LicenseKey || t.HWID != rec.Hardware.HWID() {
		e.logLicenseAction(ctx, slog.LevelWarn, "token_verify", "ledger token does not match binding",
			rec.LicenseKey, "")
		return ""
	}
	return token
}

// applyLedgerIdentity copies descriptive fields from a ledger response.
func applyLedgerIdentity(rec *Record, resp ledger.ValidateResponse) {
	if resp.ExpiryDate != nil {
		rec.ExpiryDate = cloneTime(resp.ExpiryDate)
	}
	if tier := Tier(resp.Tier); tier.Valid() {
		rec.Tier = tier
	}
	if resp.LicenseeName != "" {
		rec.LicenseeName = resp.LicenseeName
	}
	if resp.LicenseeEmail != "" {
		rec.LicenseeEmail = resp.LicenseeEmail
	}
}

// rejection maps an invalid ledger verdict to a result.
func rejection(resp ledger.ValidateResponse) Result {
	msg := resp.Message
	switch ledger.NormalizeStatus(resp.Status) {
	case ledger.StatusRevoked:
		if msg == "" {
			msg = MsgRevoked
		}
		return blocked(StateRevoked, apierrors.ErrRevoked, msg)
	case ledger.StatusExpired:
		if msg == "" {
			msg = MsgExpired
		}
		return blocked(StateExpired, apierrors.ErrExpired, msg)
	default:
		if msg == "" {
			msg = "License rejected by server"
		}
		return blocked(StateRejected, apierrors.ErrLicenseRejected, msg)
	}
}

func networkFailure() Result {
	return blocked(StateError, apierrors.ErrNetwork, MsgNetwork)
}
