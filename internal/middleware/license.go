package middleware

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "licensetrust/internal/errors"
	"licensetrust/internal/license"
)

// StatusSource exposes the engine's most recent verdict.
type StatusSource interface {
	LastEvent() (license.StatusEvent, bool)
}

// LicenseGate refuses requests unless the most recent engine verdict allows
// use of the application. It never contacts the ledger itself.
type LicenseGate struct {
	source StatusSource
	errors *apierrors.ErrorHandler
	logger *slog.Logger
}

// NewLicenseGate creates the gate.
func NewLicenseGate(source StatusSource, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseGate{
		source: source,
		errors: errorHandler,
		logger: logger.With(slog.String("component", "license_gate")),
	}
}

// Handler returns the middleware handler function
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("license-gate").Start(r.Context(), "license_gate.check",
			trace.WithAttributes(attribute.String("http.route", getRoutePattern(r))))
		defer span.End()

		ev, ok := g.source.LastEvent()
		if !ok {
			span.SetAttributes(attribute.String("license.gate", "no_verdict"))
			g.logger.WarnContext(ctx, "no license verdict yet", slog.String("path", r.URL.Path))
			g.errors.HandleError(w, r, apierrors.NewLicenseError(apierrors.ErrNotActivated, license.MsgNotActivated, nil))
			return
		}

		span.SetAttributes(
			attribute.String("license.state", string(ev.Result.State)),
			attribute.String("license.mode", string(ev.Result.Mode)),
			attribute.Bool("license.valid", ev.Result.Valid),
		)
		if ev.Result.Blocked() {
			err := ev.Result.Err()
			if err == nil {
				err = apierrors.NewLicenseError(apierrors.ErrNotActivated, ev.Result.Message, nil)
			}
			g.logger.WarnContext(ctx, "request refused by license gate",
				slog.String("path", r.URL.Path),
				slog.String("state", string(ev.Result.State)),
				slog.String("code", apierrors.CodeFor(err)),
			)
			g.errors.HandleError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
