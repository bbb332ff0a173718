package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "licensetrust/internal/errors"
	"licensetrust/internal/license"
	mw "licensetrust/internal/middleware"
)

// LicenseService is the engine surface exposed over HTTP.
type LicenseService interface {
	Status(ctx context.Context) (license.Summary, error)
	Activate(ctx context.Context, licenseKey, name, email string) license.Result
	ValidateManual(ctx context.Context) license.Result
	RequestTransfer(ctx context.Context, licenseKey, email string) license.Result
	LastEvent() (license.StatusEvent, bool)
}

// AuditReader lists recent audit events.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]license.Event, error)
}

// ActivationRequest is the POST /api/license/activate payload.
type ActivationRequest struct {
	LicenseKey   string `json:"license_key" validate:"required,license_key"`
	LicenseeName string `json:"licensee_name,omitempty" validate:"omitempty,max=200"`
	Email        string `json:"email" validate:"required,email,max=254"`
}

// TransferRequest is the POST /api/license/transfer payload. Email may be
// omitted when the ledger knows the owner.
type TransferRequest struct {
	LicenseKey string `json:"license_key" validate:"required,license_key"`
	Email      string `json:"email,omitempty" validate:"omitempty,email,max=254"`
}

// EntitlementResponse answers GET /api/license/entitlement.
type EntitlementResponse struct {
	Entitled  bool          `json:"entitled"`
	State     license.State `json:"state"`
	Mode      license.Mode  `json:"mode"`
	CheckedAt time.Time     `json:"checked_at"`
}

// EventsResponse answers GET /api/license/events.
type EventsResponse struct {
	Events []license.Event `json:"events"`
	Count  int             `json:"count"`
}

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service    LicenseService
	audit      AuditReader
	validation *mw.ValidationMiddleware
	query      *mw.QueryParamValidator
	errors     *apierrors.ErrorHandler
	logger     *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, audit AuditReader, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service:    service,
		audit:      audit,
		validation: mw.NewValidationMiddleware(logger, errorHandler),
		query:      mw.NewQueryParamValidator(errorHandler),
		errors:     errorHandler,
		logger:     logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints. gate guards routes
// that require a usable license.
func (h *LicenseHandler) Routes(gate func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw.ContentTypeValidator(h.errors, "application/json"))
	r.Use(h.validation.ValidateRequest)

	r.Get("/status", h.GetStatus)
	r.Get("/events", h.ListEvents)
	r.Post("/activate", h.Activate)
	r.Post("/verify", h.Verify)
	r.Post("/transfer", h.Transfer)
	r.With(gate).Get("/entitlement", h.Entitlement)
	return r
}

func (h *LicenseHandler) startSpan(ctx context.Context, op, route string) (context.Context, trace.Span) {
	return otel.Tracer("license-handler").Start(ctx, "license_handler."+op,
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("request_id", middleware.GetReqID(ctx)),
			attribute.String("operation", op),
		),
	)
}

// GetStatus handles GET /api/license/status. It never contacts the ledger.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "get_status", "/api/license/status")
	defer span.End()

	summary, err := h.service.Status(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status failed")
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("license.display", summary.Display))
	render.JSON(w, r, summary)
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "activate", "/api/license/activate")
	defer span.End()

	var req ActivationRequest
	if err := h.validation.DecodeAndValidate(r, &req); err != nil {
		span.SetAttributes(attribute.String("error.type", "request_validation"))
		h.errors.HandleError(w, r, err)
		return
	}

	res := h.service.Activate(ctx, req.LicenseKey, req.LicenseeName, req.Email)
	h.respond(w, r, span, res)
}

// Verify handles POST /api/license/verify, the user-initiated check.
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "verify", "/api/license/verify")
	defer span.End()

	res := h.service.ValidateManual(ctx)
	h.respond(w, r, span, res)
}

// Transfer handles POST /api/license/transfer
func (h *LicenseHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "transfer", "/api/license/transfer")
	defer span.End()

	var req TransferRequest
	if err := h.validation.DecodeAndValidate(r, &req); err != nil {
		span.SetAttributes(attribute.String("error.type", "request_validation"))
		h.errors.HandleError(w, r, err)
		return
	}

	res := h.service.RequestTransfer(ctx, req.LicenseKey, req.Email)
	h.respond(w, r, span, res)
}

// Entitlement handles GET /api/license/entitlement. Only reachable through
// the license gate, so the last verdict is known to allow use.
func (h *LicenseHandler) Entitlement(w http.ResponseWriter, r *http.Request) {
	ev, _ := h.service.LastEvent()
	render.JSON(w, r, EntitlementResponse{
		Entitled:  ev.Result.Valid,
		State:     ev.Result.State,
		Mode:      ev.Mode,
		CheckedAt: ev.At,
	})
}

// ListEvents handles GET /api/license/events?limit=N
func (h *LicenseHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, 500, 50)
	if !ok {
		return
	}
	events, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read audit log", slog.String("error", err.Error()))
		h.errors.HandleError(w, r, apierrors.NewLicenseError(apierrors.ErrStore, "Unable to read the audit log", err))
		return
	}
	if events == nil {
		events = []license.Event{}
	}
	render.JSON(w, r, EventsResponse{Events: events, Count: len(events)})
}

// respond writes a valid result as JSON and a blocked result as problem
// details carrying the result's state.
func (h *LicenseHandler) respond(w http.ResponseWriter, r *http.Request, span trace.Span, res license.Result) {
	span.SetAttributes(
		attribute.String("license.state", string(res.State)),
		attribute.Bool("license.valid", res.Valid),
	)
	if !res.Blocked() {
		render.JSON(w, r, res)
		return
	}

	err := res.Err()
	if err == nil {
		err = apierrors.NewLicenseError(apierrors.ErrLicenseRejected, res.Message, nil)
	}
	span.SetStatus(codes.Error, string(res.State))
	if res.RetryAt != nil {
		if secs := int(time.Until(*res.RetryAt).Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	w.Header().Set("X-License-State", string(res.State))
	h.errors.HandleError(w, r, err)
}
