package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(h *ErrorHandler, fail error) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RecoveryMiddleware(h))
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)
	r.Get("/fail", func(w http.ResponseWriter, r *http.Request) {
		h.HandleError(w, r, fail)
	})
	r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})
	return r
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		typ      string
		wantCode string
	}{
		{"license error", NewLicenseError(ErrTimeTamperDetected, "clock moved backwards", nil), http.StatusForbidden, "/errors/TIME_TAMPER_DETECTED", CodeTimeTamper},
		{"wrapped license error", fmt.Errorf("activate: %w", Network(errors.New("timeout"))), http.StatusServiceUnavailable, "/errors/NETWORK_ERROR", CodeNetwork},
		{"api error", ErrTooManyRequests, http.StatusTooManyRequests, TypeRateLimit, "TOO_MANY_REQUESTS"},
		{"validation", NewValidationErrors([]ValidationError{{Field: "email", Message: "must be an email"}}), http.StatusBadRequest, TypeValidation, "VALIDATION_FAILED"},
		{"deadline", fmt.Errorf("ledger: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, TypeTimeout, ""},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, TypeInternal, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewErrorHandler(slog.New(slog.DiscardHandler), false)
			rec := httptest.NewRecorder()
			newTestRouter(h, tt.err).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

			assert.Equal(t, tt.status, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, tt.typ, body["type"])
			assert.Equal(t, "/fail", body["instance"])
			assert.NotEmpty(t, body["trace_id"])
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}
}

func TestErrorHandler_UnknownErrorHidesDetail(t *testing.T) {
	h := NewErrorHandler(slog.New(slog.DiscardHandler), false)
	rec := httptest.NewRecorder()
	newTestRouter(h, errors.New("sqlite: database is locked")).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

	assert.NotContains(t, rec.Body.String(), "sqlite")
	assert.NotContains(t, rec.Body.String(), "stack")
}

func TestErrorHandler_Routing(t *testing.T) {
	h := NewErrorHandler(slog.New(slog.DiscardHandler), false)
	router := newTestRouter(h, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, TypeNotFound, decodeProblem(t, rec)["type"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/fail", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, decodeProblem(t, rec)["detail"], "POST")
}

func TestRecoveryMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		includeStack bool
	}{
		{"production", false},
		{"development", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewErrorHandler(slog.New(slog.DiscardHandler), tt.includeStack)
			rec := httptest.NewRecorder()
			newTestRouter(h, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, TypeInternal, body["type"])
			if tt.includeStack {
				assert.Equal(t, "kaboom", body["panic"])
			} else {
				assert.NotContains(t, body, "panic")
			}
		})
	}
}
