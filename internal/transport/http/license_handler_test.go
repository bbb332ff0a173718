package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "licensetrust/internal/errors"
	"licensetrust/internal/license"
	mw "licensetrust/internal/middleware"
)

// MockLicenseService implements LicenseService for testing
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) Status(ctx context.Context) (license.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(license.Summary), args.Error(1)
}

func (m *MockLicenseService) Activate(ctx context.Context, key, name, email string) license.Result {
	return m.Called(ctx, key, name, email).Get(0).(license.Result)
}

func (m *MockLicenseService) ValidateManual(ctx context.Context) license.Result {
	return m.Called(ctx).Get(0).(license.Result)
}

func (m *MockLicenseService) RequestTransfer(ctx context.Context, key, email string) license.Result {
	return m.Called(ctx, key, email).Get(0).(license.Result)
}

func (m *MockLicenseService) LastEvent() (license.StatusEvent, bool) {
	args := m.Called()
	return args.Get(0).(license.StatusEvent), args.Bool(1)
}

type MockAuditReader struct {
	mock.Mock
}

func (m *MockAuditReader) Recent(ctx context.Context, limit int) ([]license.Event, error) {
	args := m.Called(ctx, limit)
	events, _ := args.Get(0).([]license.Event)
	return events, args.Error(1)
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func newMockRouter(svc *MockLicenseService, audit *MockAuditReader) http.Handler {
	logger := slog.New(slog.DiscardHandler)
	eh := apierrors.NewErrorHandler(logger, false)
	h := NewLicenseHandler(svc, audit, eh, logger)
	gate := mw.NewLicenseGate(svc, eh, logger)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Mount("/api/license", h.Routes(gate.Handler))
	return r
}

func TestLicenseHandler_GetStatusStoreError(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("Status", mock.Anything).Return(license.Summary{},
		apierrors.NewLicenseError(apierrors.ErrStore, "database is locked", nil))

	rec := httptest.NewRecorder()
	newMockRouter(svc, new(MockAuditReader)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), apierrors.CodeStore)
	svc.AssertExpectations(t)
}

func TestLicenseHandler_VerifyNetworkFailure(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("ValidateManual", mock.Anything).Return(license.Result{
		State: license.StateError, Message: license.MsgNetwork, Mode: license.ModeManual, Kind: apierrors.ErrNetwork,
	})

	rec := httptest.NewRecorder()
	newMockRouter(svc, new(MockAuditReader)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/license/verify", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(license.StateError), rec.Header().Get("X-License-State"))
	assert.Contains(t, rec.Body.String(), license.MsgNetwork)
}

func TestLicenseHandler_VerifyRateLimitedSetsRetryAfter(t *testing.T) {
	retryAt := time.Now().Add(3 * time.Hour)
	svc := new(MockLicenseService)
	svc.On("ValidateManual", mock.Anything).Return(license.Result{
		State: license.StateRateLimited, Message: "Verification limit reached (3/day)",
		Kind: apierrors.ErrRateLimitExceeded, RetryAt: &retryAt,
	})

	rec := httptest.NewRecorder()
	newMockRouter(svc, new(MockAuditReader)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/license/verify", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "retry_after_seconds")
}

func TestLicenseHandler_TransferPassesEmail(t *testing.T) {
	svc := new(MockLicenseService)
	svc.On("RequestTransfer", mock.Anything, testKey, "").Return(license.Result{
		Valid: true, State: license.StateTransferred, Message: license.MsgTransferred, Mode: license.ModeTransfer,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/license/transfer", jsonBody(t, TransferRequest{LicenseKey: testKey}))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newMockRouter(svc, new(MockAuditReader)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestLicenseHandler_ListEvents(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantLimit int
		events    []license.Event
		err       error
		want      int
	}{
		{"default limit", "", 50, []license.Event{{Kind: license.EventActivated}}, nil, http.StatusOK},
		{"explicit limit", "?limit=5", 5, nil, nil, http.StatusOK},
		{"limit out of range", "?limit=9999", 0, nil, nil, http.StatusBadRequest},
		{"audit failure", "?limit=5", 5, nil, errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := new(MockAuditReader)
			if tt.wantLimit > 0 {
				audit.On("Recent", mock.Anything, tt.wantLimit).Return(tt.events, tt.err)
			}

			rec := httptest.NewRecorder()
			newMockRouter(new(MockLicenseService), audit).ServeHTTP(rec,
				httptest.NewRequest(http.MethodGet, "/api/license/events"+tt.query, nil))

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"events":[`)
			}
			audit.AssertExpectations(t)
		})
	}
}

func TestLicenseHandler_UnsupportedContentType(t *testing.T) {
	svc := new(MockLicenseService)
	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", jsonBody(t, ActivationRequest{LicenseKey: testKey, Email: testEmail}))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	newMockRouter(svc, new(MockAuditReader)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	svc.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
