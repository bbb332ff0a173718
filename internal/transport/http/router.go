package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"licensetrust/internal/config"
	apierrors "licensetrust/internal/errors"
	mw "licensetrust/internal/middleware"
)

// RouterConfig collects the handlers and middleware of the local API.
// Metrics, OTel and RateLimiter may be nil.
type RouterConfig struct {
	License        *LicenseHandler
	Health         *HealthHandler
	Gate           *mw.LicenseGate
	WebSocket      http.Handler
	Metrics        http.Handler
	OTel           *mw.OTelMiddleware
	RateLimiter    *mw.RateLimiter
	ErrorHandler   *apierrors.ErrorHandler
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter builds the loopback API router.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	if cfg.OTel != nil {
		r.Use(cfg.OTel.Handler)
	}
	r.Use(apierrors.RecoveryMiddleware(cfg.ErrorHandler))
	r.Use(mw.SecurityHeaders)
	r.Use(mw.CORS(mw.CORSConfig{AllowedOrigins: cfg.AllowedOrigins}))

	r.NotFound(cfg.ErrorHandler.NotFound)
	r.MethodNotAllowed(cfg.ErrorHandler.MethodNotAllowed)

	r.Group(func(r chi.Router) {
		r.Use(mw.StructuredLogger(cfg.Logger))
		r.Get(config.HealthEndpoint, cfg.Health.Health)
		if cfg.Metrics != nil {
			r.Method(http.MethodGet, config.MetricsEndpoint, cfg.Metrics)
		}
		if cfg.WebSocket != nil {
			r.Method(http.MethodGet, config.WebSocketEndpoint, cfg.WebSocket)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(apierrors.NewErrorMiddleware(cfg.ErrorHandler, cfg.Logger).Handler)
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Handler)
		}
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Mount(config.LicenseAPIBase, cfg.License.Routes(cfg.Gate.Handler))
	})

	return r
}
