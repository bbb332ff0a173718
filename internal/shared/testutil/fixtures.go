package testutil

import (
	"context"
	"sync"
	"time"

	"licensetrust/internal/ledger"
	"licensetrust/internal/security"
)

// Well-known test values.
const (
	LicenseKey   = "LIC-7Q2M-XK4P-99ZA"
	OwnerEmail   = "owner@example.com"
	OwnerName    = "Ada Lovelace"
	RevokedKey   = "LIC-0REV-0KED-0001"
	ExpiredKey   = "LIC-0EXP-1RED-0001"
	StrangerMail = "someone.else@example.com"
)

// Machines used across tests. MachineANewNIC differs from MachineA only in
// its MAC and still matches it.
var (
	MachineA       = security.HardwareSnapshot{MAC: "00:1a:2b:3c:4d:5e", CPU: "c0ffee00c0ffee00", Board: "4c4c4544-0042"}
	MachineANewNIC = security.HardwareSnapshot{MAC: "02:00:00:00:00:01", CPU: "c0ffee00c0ffee00", Board: "4c4c4544-0042"}
	MachineB       = security.HardwareSnapshot{MAC: "00:99:88:77:66:55", CPU: "deadbeefdeadbeef", Board: "8f3a1b2c-0001"}
)

// SwapCollector is a security.Collector whose snapshot can be changed to
// simulate moving an installation.
type SwapCollector struct {
	mu   sync.Mutex
	snap security.HardwareSnapshot
}

// NewSwapCollector starts on snap.
func NewSwapCollector(snap security.HardwareSnapshot) *SwapCollector {
	return &SwapCollector{snap: snap}
}

// Snapshot implements security.Collector.
func (c *SwapCollector) Snapshot(context.Context) (security.HardwareSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, nil
}

// Set moves the installation to snap.
func (c *SwapCollector) Set(snap security.HardwareSnapshot) {
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}

// SeedLedger returns a memory ledger holding an available premium license
// under LicenseKey, a revoked one and one that expired a day before now.
func SeedLedger(now func() time.Time) *ledger.MemoryClient {
	led := ledger.NewMemoryClient()
	if now != nil {
		led = led.WithClock(now)
	} else {
		now = time.Now
	}
	expired := now().Add(-24 * time.Hour)

	led.Put(ledger.Entry{LicenseKey: LicenseKey, Status: "available", Tier: "premium",
		LicenseeName: OwnerName, LicenseeEmail: OwnerEmail})
	led.Put(ledger.Entry{LicenseKey: RevokedKey, Status: ledger.StatusRevoked, LicenseeEmail: OwnerEmail})
	led.Put(ledger.Entry{LicenseKey: ExpiredKey, Status: ledger.StatusActive, LicenseeEmail: OwnerEmail,
		ExpiryDate: &expired})
	return led
}
