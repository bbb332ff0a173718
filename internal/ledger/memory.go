package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"licensetrust/internal/security"
)

// TokenIssuer signs an offline token for a validated key.
type TokenIssuer func(e Entry, hwid string, now time.Time) (string, error)

// MemoryClient is an in-process ledger for development and tests.
type MemoryClient struct {
	mu      sync.Mutex
	entries map[string]Entry
	offline bool
	now     func() time.Time
	issuer  TokenIssuer

	validateCalls int
	listCalls     int
	syncs         []ActivationEvent
}

// NewMemoryClient creates an empty ledger.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		entries: make(map[string]Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets the time source used for expiry checks.
func (m *MemoryClient) WithClock(now func() time.Time) *MemoryClient {
	m.now = now
	return m
}

// WithIssuer makes successful validations carry a signed token.
func (m *MemoryClient) WithIssuer(issuer TokenIssuer) *MemoryClient {
	m.issuer = issuer
	return m
}

// Put inserts or replaces an entry.
func (m *MemoryClient) Put(e Entry) {
	m.mu.Lock()
	m.entries[e.LicenseKey] = e
	m.mu.Unlock()
}

// Get returns an entry.
func (m *MemoryClient) Get(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok
}

// SetStatus changes the status of an existing entry.
func (m *MemoryClient) SetStatus(key, status string) {
	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		e.Status = status
		m.entries[key] = e
	}
	m.mu.Unlock()
}

// SetOffline makes every call fail with ErrUnavailable.
func (m *MemoryClient) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// ValidateCalls returns how many Validate calls reached the ledger.
func (m *MemoryClient) ValidateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateCalls
}

// Syncs returns every activation event received.
func (m *MemoryClient) Syncs() []ActivationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ActivationEvent(nil), m.syncs...)
}

// Validate implements Client. The first successful validation binds the
// entry to the caller's hardware.
func (m *MemoryClient) Validate(_ context.Context, key string, hw security.HardwareSnapshot) (ValidateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateCalls++
	if m.offline {
		return ValidateResponse{}, ErrUnavailable
	}

	e, ok := m.entries[key]
	if !ok {
		return notFound(), nil
	}
	now := m.now()
	resp := validateEntry(e, now)
	if !resp.Valid {
		return resp, nil
	}

	if e.Hardware.IsEmpty() {
		e.Hardware = hw
	}
	e.Status = StatusActive
	e.LastSeen = &now
	m.entries[key] = e

	if m.issuer != nil {
		token, err := m.issuer(e, hw.HWID(), now)
		if err != nil {
			return ValidateResponse{}, err
		}
		resp.Token = token
	}
	return resp, nil
}

// GetAllLicenses implements Client.
func (m *MemoryClient) GetAllLicenses(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.offline {
		return nil, ErrUnavailable
	}

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LicenseKey < out[j].LicenseKey })
	return out, nil
}

// SyncActivation implements Client.
func (m *MemoryClient) SyncActivation(_ context.Context, ev ActivationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return ErrUnavailable
	}

	m.syncs = append(m.syncs, ev)
	if e, ok := m.entries[ev.LicenseKey]; ok {
		e.Hardware = ev.Hardware
		e.TransferCount = ev.TransferCount
		at := ev.At
		e.LastSeen = &at
		m.entries[ev.LicenseKey] = e
	}
	return nil
}
