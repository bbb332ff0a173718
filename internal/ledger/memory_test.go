package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensetrust/internal/security"
)

var (
	now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hwA = security.HardwareSnapshot{MAC: "00:1a:2b:3c:4d:5e", CPU: "c0ffee00", Board: "board-a"}
	hwB = security.HardwareSnapshot{MAC: "00:99:88:77:66:55", CPU: "deadbeef", Board: "board-b"}
)

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"":          StatusPending,
		"Available": StatusPending,
		"issued":    StatusPending,
		" ACTIVE ":  StatusActive,
		"Activated": StatusActive,
		"valid":     StatusActive,
		"Revoked":   StatusRevoked,
		"expired":   StatusExpired,
		"not found": StatusNotFound,
		"suspended": "suspended",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeStatus(in), "input %q", in)
	}
}

func TestMemoryClient_Validate(t *testing.T) {
	ctx := context.Background()
	past := now.Add(-time.Hour)
	client := NewMemoryClient().WithClock(func() time.Time { return now })
	client.Put(Entry{LicenseKey: "pending", Status: "available", Tier: "premium"})
	client.Put(Entry{LicenseKey: "revoked", Status: "revoked"})
	client.Put(Entry{LicenseKey: "expired", Status: "active", ExpiryDate: &past})

	tests := []struct {
		key        string
		wantValid  bool
		wantStatus string
	}{
		{key: "pending", wantValid: true, wantStatus: StatusActive},
		{key: "revoked", wantStatus: StatusRevoked},
		{key: "expired", wantStatus: StatusExpired},
		{key: "missing", wantStatus: StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			resp, err := client.Validate(ctx, tt.key, hwA)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, resp.Valid)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.NotEmpty(t, resp.Message)
		})
	}

	entry, ok := client.Get("pending")
	require.True(t, ok)
	assert.Equal(t, hwA, entry.Hardware, "first validation binds the hardware")
	assert.Equal(t, StatusActive, entry.Status)

	_, err := client.Validate(ctx, "pending", hwB)
	require.NoError(t, err)
	entry, _ = client.Get("pending")
	assert.Equal(t, hwA, entry.Hardware, "later validations keep the binding")
	assert.Equal(t, 5, client.ValidateCalls())
}

func TestMemoryClient_Offline(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient()
	client.Put(Entry{LicenseKey: "k", Status: "active"})
	client.SetOffline(true)

	_, err := client.Validate(ctx, "k", hwA)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = client.GetAllLicenses(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, client.SyncActivation(ctx, ActivationEvent{LicenseKey: "k"}), ErrUnavailable)
}

func TestMemoryClient_IssuerAndSync(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient().WithIssuer(func(e Entry, hwid string, _ time.Time) (string, error) {
		return e.LicenseKey + ":" + hwid, nil
	})
	client.Put(Entry{LicenseKey: "b", Status: "active"})
	client.Put(Entry{LicenseKey: "a", Status: "active"})

	resp, err := client.Validate(ctx, "a", hwA)
	require.NoError(t, err)
	assert.Equal(t, "a:"+hwA.HWID(), resp.Token)

	require.NoError(t, client.SyncActivation(ctx, ActivationEvent{
		Type: EventTransfer, LicenseKey: "a", Hardware: hwB, TransferCount: 1, At: now,
	}))
	entries, err := client.GetAllLicenses(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].LicenseKey)
	assert.Equal(t, hwB, entries[0].Hardware)
	assert.Equal(t, 1, entries[0].TransferCount)
	assert.Len(t, client.Syncs(), 1)
}

func TestMemoryClient_IssuerError(t *testing.T) {
	client := NewMemoryClient().WithIssuer(func(Entry, string, time.Time) (string, error) {
		return "", errors.New("signing key unavailable")
	})
	client.Put(Entry{LicenseKey: "k", Status: "active"})

	_, err := client.Validate(context.Background(), "k", hwA)
	assert.Error(t, err)
}
