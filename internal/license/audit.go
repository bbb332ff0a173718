package license

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventKind classifies an audit event.
type EventKind string

const (
	EventTimeTamper        EventKind = "time_tamper_detected"
	EventRevocation        EventKind = "revocation_detected"
	EventTransferApproved  EventKind = "transfer_approved"
	EventTransferDenied    EventKind = "transfer_denied"
	EventActivated         EventKind = "license_activated"
	EventRecovered         EventKind = "license_recovered"
	EventRecordTampered    EventKind = "record_tamper_detected"
	EventRateLimitExceeded EventKind = "rate_limit_exceeded"
)

// Event is one append-only audit entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
}

// AuditLog records security-relevant events. Entries are never modified.
type AuditLog interface {
	Append(ctx context.Context, ev Event) error
	// Recent returns up to limit events, oldest first. limit <= 0 returns all.
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// MemoryAuditLog keeps events in memory.
type MemoryAuditLog struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryAuditLog returns an empty log.
func NewMemoryAuditLog() *MemoryAuditLog { return &MemoryAuditLog{} }

// Append implements AuditLog.
func (m *MemoryAuditLog) Append(_ context.Context, ev Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

// Recent implements AuditLog.
func (m *MemoryAuditLog) Recent(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.events, limit), nil
}

// Kinds returns the kinds of every recorded event, in order.
func (m *MemoryAuditLog) Kinds() []EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]EventKind, len(m.events))
	for i, ev := range m.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// FileAuditLog appends events as JSON lines.
type FileAuditLog struct {
	mu   sync.Mutex
	path string
}

// NewFileAuditLog writes to path, creating parent directories on demand.
func NewFileAuditLog(path string) *FileAuditLog {
	return &FileAuditLog{path: path}
}

// Append implements AuditLog.
func (f *FileAuditLog) Append(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit: %w", err)
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return nil
}

// Recent implements AuditLog.
func (f *FileAuditLog) Recent(_ context.Context, limit int) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	return tail(events, limit), nil
}

// MultiAuditLog fans events out to several logs. Recent reads the first.
type MultiAuditLog []AuditLog

// Append implements AuditLog. Every log is attempted; the first error is returned.
func (m MultiAuditLog) Append(ctx context.Context, ev Event) error {
	var first error
	for _, l := range m {
		if err := l.Append(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recent implements AuditLog.
func (m MultiAuditLog) Recent(ctx context.Context, limit int) ([]Event, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return m[0].Recent(ctx, limit)
}

func tail(events []Event, limit int) []Event {
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}
