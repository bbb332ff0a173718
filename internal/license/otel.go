package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "license-trust-engine"
	MeterName  = "license-trust-engine"
)

// Metrics holds the engine's OpenTelemetry instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Validations        metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	Activations        metric.Int64Counter
	Transfers          metric.Int64Counter
	Recoveries         metric.Int64Counter
	SecurityEvents     metric.Int64Counter
	RateLimitHits      metric.Int64Counter
	LedgerLatency      metric.Float64Histogram
	LedgerFailures     metric.Int64Counter
	HardwareSimilarity metric.Float64Histogram
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.Validations, err = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("License validations by mode and resulting state"),
	); err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}
	if m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}
	if m.Activations, err = meter.Int64Counter(
		"license_activations_total",
		metric.WithDescription("License activation attempts by result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}
	if m.Transfers, err = meter.Int64Counter(
		"license_transfers_total",
		metric.WithDescription("License transfer requests by result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create transfers counter: %w", err)
	}
	if m.Recoveries, err = meter.Int64Counter(
		"license_recoveries_total",
		metric.WithDescription("Auto-recovery attempts by result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create recoveries counter: %w", err)
	}
	if m.SecurityEvents, err = meter.Int64Counter(
		"license_security_events_total",
		metric.WithDescription("Audited security events by kind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create security events counter: %w", err)
	}
	if m.RateLimitHits, err = meter.Int64Counter(
		"license_rate_limit_hits_total",
		metric.WithDescription("Manual verifications refused by the daily limit"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}
	if m.LedgerLatency, err = meter.Float64Histogram(
		"license_ledger_latency_seconds",
		metric.WithDescription("License ledger call latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ledger latency histogram: %w", err)
	}
	if m.LedgerFailures, err = meter.Int64Counter(
		"license_ledger_failures_total",
		metric.WithDescription("License ledger calls that failed or timed out"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ledger failures counter: %w", err)
	}
	if m.HardwareSimilarity, err = meter.Float64Histogram(
		"license_hardware_similarity",
		metric.WithDescription("Similarity between stored and current hardware snapshots"),
	); err != nil {
		return nil, fmt.Errorf("failed to create similarity histogram: %w", err)
	}
	return m, nil
}

// NewGlobalMetrics creates instruments on the global meter provider.
func NewGlobalMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}

func (m *Metrics) recordValidation(ctx context.Context, mode Mode, res Result, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("state", string(res.State)),
		attribute.Bool("valid", res.Valid),
	)
	m.Validations.Add(ctx, 1, attrs)
	m.ValidationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("mode", string(mode))))
}

func (m *Metrics) recordOutcome(ctx context.Context, mode Mode, res Result) {
	if m == nil {
		return
	}
	var counter metric.Int64Counter
	switch mode {
	case ModeActivation:
		counter = m.Activations
	case ModeTransfer:
		counter = m.Transfers
	case modeRecovery:
		counter = m.Recoveries
	default:
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(res.State)),
		attribute.Bool("valid", res.Valid),
	))
}

func (m *Metrics) recordSecurityEvent(ctx context.Context, kind EventKind) {
	if m == nil {
		return
	}
	m.SecurityEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	if kind == EventRateLimitExceeded {
		m.RateLimitHits.Add(ctx, 1)
	}
}

func (m *Metrics) recordLedgerCall(ctx context.Context, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.LedgerLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("success", err == nil),
	))
	if err != nil {
		m.LedgerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
}

func (m *Metrics) recordSimilarity(ctx context.Context, score float64) {
	if m == nil {
		return
	}
	m.HardwareSimilarity.Record(ctx, score)
}

// startSpan starts an engine span for an operation.
func startSpan(ctx context.Context, mode Mode) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "license."+string(mode),
		trace.WithAttributes(attribute.String("license.mode", string(mode))))
}

// endSpan annotates the span with the result and ends it.
func endSpan(span trace.Span, res Result) {
	span.SetAttributes(
		attribute.String("license.state", string(res.State)),
		attribute.Bool("license.valid", res.Valid),
	)
	if res.Valid {
		span.SetStatus(codes.Ok, res.Message)
	} else {
		span.SetStatus(codes.Error, res.Message)
	}
	span.End()
}
