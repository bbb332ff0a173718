package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"licensetrust/internal/security"
)

// BreakerConfig tunes the circuit breaker around a ledger.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// CallTimeout bounds each ledger call.
	CallTimeout time.Duration
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 3,
		OpenTimeout:         60 * time.Second,
		CallTimeout:         10 * time.Second,
	}
}

// Breaker bounds every call of the wrapped ledger with a timeout and stops
// calling it for a while after repeated failures. An open breaker fails fast
// with an error wrapping ErrUnavailable.
type Breaker struct {
	next    Client
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *slog.Logger
}

// NewBreaker wraps next.
func NewBreaker(next Client, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	b := &Breaker{next: next, timeout: cfg.CallTimeout, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "license-ledger",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return b
}

// State returns the breaker state name: closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Validate implements Client.
func (b *Breaker) Validate(ctx context.Context, key string, hw security.HardwareSnapshot) (ValidateResponse, error) {
	out, err := b.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return b.next.Validate(ctx, key, hw)
	})
	if err != nil {
		return ValidateResponse{}, err
	}
	return out.(ValidateResponse), nil
}

// GetAllLicenses implements Client.
func (b *Breaker) GetAllLicenses(ctx context.Context) ([]Entry, error) {
	out, err := b.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return b.next.GetAllLicenses(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Entry), nil
}

// SyncActivation implements Client.
func (b *Breaker) SyncActivation(ctx context.Context, ev ActivationEvent) error {
	_, err := b.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, b.next.SyncActivation(ctx, ev)
	})
	return err
}

func (b *Breaker) execute(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		return fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit breaker %s: %v", ErrUnavailable, b.cb.State(), err)
	}
	return result, err
}
