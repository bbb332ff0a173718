package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS license_record (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	license_key TEXT NOT NULL,
	license_status TEXT NOT NULL,
	data TEXT NOT NULL,
	seal TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_kind ON audit_events(kind);
`

// OpenDatabase opens the SQLite database at path and applies the schema.
func OpenDatabase(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases shared and writes serialized
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// SQLiteStore keeps the record in the single-row license_record table.
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
}

// NewSQLiteStore wraps an open database. A nil sealer disables sealing.
func NewSQLiteStore(db *sql.DB, sealer *Sealer) *SQLiteStore {
	return &SQLiteStore{db: db, sealer: sealer}
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (*Record, error) {
	var data, seal string
	err := s.db.QueryRowContext(ctx, `SELECT data, seal FROM license_record WHERE id = 1`).Scan(&data, &seal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load license record: %w", err)
	}

	rec, err := decodeRecord([]byte(data))
	if err != nil {
		return nil, err
	}
	if s.sealer != nil && !s.sealer.Check([]byte(data), seal) {
		return rec, ErrRecordTampered
	}
	return rec, nil
}

// Save implements Store. The row is replaced atomically.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	seal := ""
	if s.sealer != nil {
		seal = s.sealer.Seal(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO license_record (id, license_key, license_status, data, seal, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			license_key = excluded.license_key,
			license_status = excluded.license_status,
			data = excluded.data,
			seal = excluded.seal,
			updated_at = excluded.updated_at`,
		rec.LicenseKey, string(rec.Status), string(data), seal, rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save license record: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SQLiteAuditLog appends events to the audit_events table.
type SQLiteAuditLog struct {
	db *sql.DB
}

// NewSQLiteAuditLog wraps an open database.
func NewSQLiteAuditLog(db *sql.DB) *SQLiteAuditLog {
	return &SQLiteAuditLog{db: db}
}

// Append implements AuditLog.
func (a *SQLiteAuditLog) Append(ctx context.Context, ev Event) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_events (timestamp, kind, message) VALUES (?, ?, ?)`,
		ev.Timestamp.UTC(), string(ev.Kind), ev.Message)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Recent implements AuditLog.
func (a *SQLiteAuditLog) Recent(ctx context.Context, limit int) ([]Event, error) {
	query := `SELECT timestamp, kind, message FROM (
		SELECT id, timestamp, kind, message FROM audit_events ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`
	if limit <= 0 {
		limit = -1
	}

	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev   Event
			ts   time.Time
			kind string
		)
		if err := rows.Scan(&ts, &kind, &ev.Message); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Timestamp = ts.UTC()
		ev.Kind = EventKind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}
