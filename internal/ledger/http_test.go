package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_RequiresHTTPS(t *testing.T) {
	tests := []struct {
		name    string
		cfg     HTTPConfig
		wantErr bool
	}{
		{name: "https", cfg: HTTPConfig{URL: "https://ledger.example.com/api"}},
		{name: "localhost http", cfg: HTTPConfig{URL: "http://localhost:8080/api"}},
		{name: "loopback http", cfg: HTTPConfig{URL: "http://127.0.0.1:8080/api"}},
		{name: "remote http", cfg: HTTPConfig{URL: "http://ledger.example.com/api"}, wantErr: true},
		{name: "remote http allowed", cfg: HTTPConfig{URL: "http://ledger.example.com/api", AllowInsecure: true}},
		{name: "no host", cfg: HTTPConfig{URL: "ledger"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPClient(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPClient(t *testing.T) {
	var (
		mu      sync.Mutex
		lastReq httpRequest
		auth    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		lastReq = httpRequest{}
		_ = json.NewDecoder(r.Body).Decode(&lastReq)
		w.Header().Set("Content-Type", "application/json")
		switch lastReq.Action {
		case "validate":
			_, _ = w.Write([]byte(`{"valid":true,"status":"Activated","tier":"premium","token":"abc.def"}`))
		case "list":
			_, _ = w.Write([]byte(`{"licenses":[{"license_key":"k1","status":"Available"},{"license_key":"k2","status":"revoked"}]}`))
		case "sync":
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	client, err := NewHTTPClient(HTTPConfig{URL: srv.URL, APIKey: "secret"}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := client.Validate(ctx, "k1", hwA)
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, StatusActive, resp.Status)
	assert.Equal(t, "abc.def", resp.Token)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, hwA.HWID(), lastReq.HWID)
	require.NotNil(t, lastReq.Hardware)
	assert.Equal(t, hwA, *lastReq.Hardware)

	entries, err := client.GetAllLicenses(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, StatusPending, entries[0].Status)
	assert.Equal(t, StatusRevoked, entries[1].Status)

	require.NoError(t, client.SyncActivation(ctx, ActivationEvent{Type: EventActivation, LicenseKey: "k1", Hardware: hwA}))
	require.NotNil(t, lastReq.Event)
	assert.Equal(t, EventActivation, lastReq.Event.Type)
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"valid":false,"status":"revoked","message":"License revoked"}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(HTTPConfig{URL: srv.URL, Retries: 2}, nil)
	require.NoError(t, err)

	resp, err := client.Validate(context.Background(), "k1", hwA)
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, StatusRevoked, resp.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad api key"}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(HTTPConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = client.GetAllLicenses(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad api key")
}
