// Package journal keeps a local history of boot decisions for the status command.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

// Entry is one recorded boot decision.
type Entry struct {
	ID              int64
	BootID          string
	Timestamp       time.Time
	Component       string
	Outcome         string
	Version         string
	PreviousVersion string
	Channel         string
	Path            string
	Detail          map[string]string
}

// Store records and lists boot decisions.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Noop discards entries.
type Noop struct{}

func (Noop) Record(context.Context, Entry) error             { return nil }
func (Noop) Recent(context.Context, int) ([]Entry, error)    { return nil, nil }
func (Noop) Close() error                                    { return nil }

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates the journal at dbPath. Use ":memory:" in tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, errors.WrapError(err, errors.CategoryJournal, "could not create journal directory").
				WithContext("path", dbPath).Build()
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryJournal, "could not open journal database").
			WithContext("path", dbPath).Build()
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, errors.WrapError(err, errors.CategoryJournal, "failed to initialize journal schema").Build()
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS boot_decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		boot_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		component TEXT NOT NULL,
		outcome TEXT NOT NULL,
		version TEXT,
		previous_version TEXT,
		channel TEXT,
		path TEXT,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_boot_id ON boot_decisions(boot_id);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON boot_decisions(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends e. A zero Timestamp is replaced by the current time.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detailJSON []byte
	if len(e.Detail) > 0 {
		var err error
		detailJSON, err = json.Marshal(e.Detail)
		if err != nil {
			return errors.WrapError(err, errors.CategoryJournal, "failed to marshal journal detail").Build()
		}
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO boot_decisions (boot_id, timestamp, component, outcome, version, previous_version, channel, path, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.BootID, ts.UnixMilli(), e.Component, e.Outcome, e.Version, e.PreviousVersion, e.Channel, e.Path, detailJSON,
	)
	if err != nil {
		return errors.WrapError(err, errors.CategoryJournal, "failed to append journal entry").Build()
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, boot_id, timestamp, component, outcome, version, previous_version, channel, path, detail
		 FROM boot_decisions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryJournal, "failed to query journal").Build()
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var tsMillis int64
		var version, previous, channel, path sql.NullString
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.BootID, &tsMillis, &e.Component, &e.Outcome, &version, &previous, &channel, &path, &detailJSON); err != nil {
			return nil, errors.WrapError(err, errors.CategoryJournal, "failed to scan journal row").Build()
		}
		e.Timestamp = time.UnixMilli(tsMillis)
		e.Version, e.PreviousVersion, e.Channel, e.Path = version.String, previous.String, channel.String, path.String
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, errors.WrapError(err, errors.CategoryJournal, "failed to unmarshal journal detail").Build()
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryJournal, "failed to iterate journal rows").Build()
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
