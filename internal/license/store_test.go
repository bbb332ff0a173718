package license

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	expiry := t0.Add(90 * 24 * time.Hour)
	return &Record{
		LicenseKey:        testKey,
		Status:            StatusActive,
		Tier:              TierStandard,
		LicenseeEmail:     "owner@example.com",
		Hardware:          machineA,
		ActivatedAt:       t0,
		LastOnlineCheck:   timePtr(t0),
		OfflineGraceUntil: t0.Add(7 * 24 * time.Hour),
		ExpiryDate:        &expiry,
		InstallationID:    "7d1c7c3e-5f1e-4a43-9d6a-0c7f0e8a1b2c",
		UpdatedAt:         t0,
	}
}

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return s
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	want := sampleRecord()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got.LastOnlineCheck = timePtr(t0.Add(time.Hour))
	again, _ := store.Load(ctx)
	assert.Equal(t, t0, *again.LastOnlineCheck, "loaded records are copies")
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDatabase(filepath.Join(t.TempDir(), "nested", "license.db"))
	require.NoError(t, err)
	store := NewSQLiteStore(db, testSealer(t))
	defer store.Close()

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	want := sampleRecord()
	require.NoError(t, store.Save(ctx, want))
	want.Status = StatusRevoked
	require.NoError(t, store.Save(ctx, want), "saving twice replaces the row")

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, got.Status)
	assert.Equal(t, machineA, got.Hardware)
	assert.True(t, want.ExpiryDate.Equal(*got.ExpiryDate))

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM license_record`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestSQLiteStore_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDatabase(filepath.Join(t.TempDir(), "license.db"))
	require.NoError(t, err)
	store := NewSQLiteStore(db, testSealer(t))
	defer store.Close()
	require.NoError(t, store.Save(ctx, sampleRecord()))

	tamperRecord(t, db, `"license_status":"active"`, `"license_status":"pending"`)

	rec, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrRecordTampered)
	require.NotNil(t, rec, "the decoded record is still returned")
	assert.Equal(t, StatusPending, rec.Status)
}

func TestSQLiteStore_DifferentSecretIsTampering(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDatabase(filepath.Join(t.TempDir(), "license.db"))
	require.NoError(t, err)
	require.NoError(t, NewSQLiteStore(db, testSealer(t)).Save(ctx, sampleRecord()))

	other, err := NewSealer([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)
	_, err = NewSQLiteStore(db, other).Load(ctx)
	assert.ErrorIs(t, err, ErrRecordTampered)
	require.NoError(t, db.Close())
}

func TestSealer(t *testing.T) {
	s := testSealer(t)
	seal := s.Seal([]byte("payload"))
	assert.True(t, s.Check([]byte("payload"), seal))
	assert.False(t, s.Check([]byte("payload!"), seal))
	assert.False(t, s.Check([]byte("payload"), "not-hex"))

	_, err := NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestLoadOrCreateSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "install.key")

	first, err := LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.WriteFile(path, []byte("zz"), 0600))
	_, err = LoadOrCreateSecret(path)
	assert.Error(t, err)
}

func TestAuditLogs(t *testing.T) {
	db, err := OpenDatabase(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logs := map[string]AuditLog{
		"memory": NewMemoryAuditLog(),
		"file":   NewFileAuditLog(filepath.Join(t.TempDir(), "logs", "audit.jsonl")),
		"sqlite": NewSQLiteAuditLog(db),
	}

	for name, log := range logs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			empty, err := log.Recent(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, empty)

			kinds := []EventKind{EventActivated, EventTimeTamper, EventRevocation}
			for i, kind := range kinds {
				require.NoError(t, log.Append(ctx, Event{
					Timestamp: t0.Add(time.Duration(i) * time.Minute),
					Kind:      kind,
					Message:   string(kind),
				}))
			}

			all, err := log.Recent(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			for i, ev := range all {
				assert.Equal(t, kinds[i], ev.Kind)
				assert.True(t, ev.Timestamp.Equal(t0.Add(time.Duration(i)*time.Minute)))
			}

			last, err := log.Recent(ctx, 2)
			require.NoError(t, err)
			require.Len(t, last, 2)
			assert.Equal(t, EventTimeTamper, last[0].Kind, "recent events are returned oldest first")
			assert.Equal(t, EventRevocation, last[1].Kind)
		})
	}
}

func TestMultiAuditLog(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemoryAuditLog(), NewMemoryAuditLog()
	multi := MultiAuditLog{a, b}

	require.NoError(t, multi.Append(ctx, Event{Timestamp: t0, Kind: EventTransferDenied}))
	assert.Equal(t, []EventKind{EventTransferDenied}, a.Kinds())
	assert.Equal(t, []EventKind{EventTransferDenied}, b.Kinds())

	events, err := multi.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
