package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "licensetrust/internal/errors"
	"licensetrust/internal/ledger"
	"licensetrust/internal/license"
	mw "licensetrust/internal/middleware"
	"licensetrust/internal/security"
)

const (
	testKey   = "LIC-7Q2M-XK4P-99ZA"
	testEmail = "owner@example.com"
)

type apiFixture struct {
	router http.Handler
	engine *license.Engine
	ledger *ledger.MemoryClient
	audit  *license.MemoryAuditLog
}

func newAPIFixture(t *testing.T, checks map[string]HealthCheck) *apiFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	led := ledger.NewMemoryClient()
	led.Put(ledger.Entry{LicenseKey: testKey, Status: ledger.StatusActive, LicenseeEmail: testEmail})
	audit := license.NewMemoryAuditLog()

	engine, err := license.NewEngine(license.Options{
		Store:     license.NewMemoryStore(),
		Ledger:    led,
		Collector: security.StaticCollector{MAC: "00:1a:2b:3c:4d:5e", CPU: "c0ffee00c0ffee00", Board: "4c4c4544-0042"},
		Audit:     audit,
		Logger:    logger,
	})
	require.NoError(t, err)

	eh := apierrors.NewErrorHandler(logger, false)
	router := NewRouter(RouterConfig{
		License:      NewLicenseHandler(engine, audit, eh, logger),
		Health:       NewHealthHandler(checks, logger),
		Gate:         mw.NewLicenseGate(engine, eh, logger),
		Metrics:      http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		ErrorHandler: eh,
		Logger:       logger,
	})
	return &apiFixture{router: router, engine: engine, ledger: led, audit: audit}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAPI_ActivationLifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/license/entitlement", nil)
	require.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.Equal(t, apierrors.CodeNotActivated, decode(t, rec)["code"])

	rec = f.do(t, http.MethodPost, "/api/license/activate", ActivationRequest{
		LicenseKey: testKey, LicenseeName: "Jo Field", Email: testEmail,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, string(license.StateOnline), body["state"])

	rec = f.do(t, http.MethodGet, "/api/license/entitlement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["entitled"])

	rec = f.do(t, http.MethodGet, "/api/license/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, license.DisplayOnline, status["display"])
	assert.NotContains(t, status["license_key"], "7Q2M")

	rec = f.do(t, http.MethodGet, "/api/license/events?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.NotEmpty(t, events.Events)
	assert.Equal(t, license.EventActivated, events.Events[len(events.Events)-1].Kind)
}

func TestAPI_ActivateValidation(t *testing.T) {
	f := newAPIFixture(t, nil)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"bad key format", map[string]string{"license_key": "not a key", "email": testEmail}, http.StatusBadRequest},
		{"missing email", map[string]string{"license_key": testKey}, http.StatusBadRequest},
		{"unknown field", map[string]string{"license_key": testKey, "email": testEmail, "tier": "enterprise"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/license/activate", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Zero(t, f.ledger.ValidateCalls())
}

func TestAPI_ActivateUnknownKey(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/license/activate", ActivationRequest{LicenseKey: "LIC-0000-0000", Email: testEmail})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(license.StateRejected), rec.Header().Get("X-License-State"))
}

func TestAPI_ManualVerifyRateLimited(t *testing.T) {
	f := newAPIFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/license/activate",
		ActivationRequest{LicenseKey: testKey, Email: testEmail}).Code)

	limit := f.engine.Policy().ManualDailyLimit
	for i := 0; i < limit; i++ {
		rec := f.do(t, http.MethodPost, "/api/license/verify", nil)
		require.Equal(t, http.StatusOK, rec.Code, "verification %d", i+1)
	}

	rec := f.do(t, http.MethodPost, "/api/license/verify", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apierrors.CodeRateLimited, decode(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestAPI_RevokedBlocksEntitlement(t *testing.T) {
	f := newAPIFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/license/activate",
		ActivationRequest{LicenseKey: testKey, Email: testEmail}).Code)

	f.ledger.SetStatus(testKey, ledger.StatusRevoked)
	rec := f.do(t, http.MethodPost, "/api/license/verify", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apierrors.CodeRevoked, decode(t, rec)["code"])

	rec = f.do(t, http.MethodGet, "/api/license/entitlement", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_Transfer(t *testing.T) {
	f := newAPIFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/license/activate",
		ActivationRequest{LicenseKey: testKey, Email: testEmail}).Code)

	rec := f.do(t, http.MethodPost, "/api/license/transfer", TransferRequest{LicenseKey: testKey, Email: "thief@example.com"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apierrors.CodeTransferDenied, decode(t, rec)["code"])

	rec = f.do(t, http.MethodPost, "/api/license/transfer", TransferRequest{LicenseKey: testKey, Email: testEmail})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(license.StateTransferred), decode(t, rec)["state"])
}

func TestAPI_Health(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := newAPIFixture(t, map[string]HealthCheck{"store": func(context.Context) error { return nil }})
		rec := f.do(t, http.MethodGet, "/healthz", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, map[string]interface{}{"store": "ok"}, body["checks"])
	})

	t.Run("degraded", func(t *testing.T) {
		f := newAPIFixture(t, map[string]HealthCheck{"store": func(context.Context) error { return errors.New("database is locked") }})
		rec := f.do(t, http.MethodGet, "/healthz", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "degraded", decode(t, rec)["status"])
	})
}

func TestAPI_RoutingAndHeaders(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")

	rec = f.do(t, http.MethodGet, "/api/license/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/license/status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/license/status", nil)
	assert.NotEmpty(t, rec.Header().Get(mw.RequestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
