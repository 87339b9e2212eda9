// Package sqlite provides an embedded SQLite implementation of the event store
// adapter, the position store and the view store.
//
// The adapter keeps a single connection open, so writers never see SQLITE_BUSY
// and compare-and-append runs in one transaction at a time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Ensure SQLiteAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter = (*SQLiteAdapter)(nil)
	_ adapters.PositionStore     = (*SQLiteAdapter)(nil)
	_ adapters.ViewStore         = (*SQLiteAdapter)(nil)
	_ adapters.HealthChecker     = (*SQLiteAdapter)(nil)
)

// SQLiteAdapter stores events, positions and views in one SQLite database.
type SQLiteAdapter struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	closed atomic.Bool
}

// Option configures a SQLiteAdapter.
type Option func(*SQLiteAdapter)

// WithClock sets the clock used to timestamp events and views.
func WithClock(now func() time.Time) Option {
	return func(a *SQLiteAdapter) {
		a.now = now
	}
}

// Open opens the database file at path, creating it if needed.
// Use MemoryPath for a throwaway database.
func Open(path string, opts ...Option) (*SQLiteAdapter, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("occurrent/sqlite: database path is required")
	}

	dsn := path
	if path != MemoryPath {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("occurrent/sqlite: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	adapter := &SQLiteAdapter{
		db:   db,
		path: path,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(adapter)
	}
	return adapter, nil
}

// Path returns the database path.
func (a *SQLiteAdapter) Path() string {
	return a.path
}

// Initialize creates the tables. It is idempotent.
func (a *SQLiteAdapter) Initialize(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS streams (
			stream_id   TEXT PRIMARY KEY,
			category    TEXT NOT NULL,
			version     INTEGER NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			global_position INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id        TEXT NOT NULL UNIQUE,
			stream_id       TEXT NOT NULL,
			version         INTEGER NOT NULL,
			event_type      TEXT NOT NULL,
			data            BLOB NOT NULL,
			metadata        TEXT,
			timestamp       INTEGER NOT NULL,
			UNIQUE (stream_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_streams_category ON streams (category)`,
		`CREATE TABLE IF NOT EXISTS subscription_positions (
			subscription_id TEXT PRIMARY KEY,
			position        INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS views (
			projection  TEXT NOT NULL,
			view_key    TEXT NOT NULL,
			version     INTEGER NOT NULL,
			data        BLOB NOT NULL,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (projection, view_key)
		)`,
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return wrap("initialize", err)
		}
	}
	return nil
}

// Append stores events to the specified stream with optimistic concurrency control.
func (a *SQLiteAdapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	if err := adapters.ValidateAppend(streamID, events); err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int64
	streamExists := true
	err = tx.QueryRowContext(ctx, `SELECT version FROM streams WHERE stream_id = ?`, streamID).Scan(&currentVersion)
	if errors.Is(err, sql.ErrNoRows) {
		streamExists = false
	} else if err != nil {
		return nil, wrap("read stream version", err)
	}

	if err := adapters.CheckVersion(streamID, expectedVersion, currentVersion, streamExists); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	if !streamExists {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO streams (stream_id, category, version, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
			streamID, adapters.Category(streamID), now.UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return nil, wrap("create stream", err)
		}
	}

	stored := make([]adapters.StoredEvent, len(events))
	for i, event := range events {
		currentVersion++

		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("occurrent/sqlite: failed to marshal metadata: %w", err)
		}

		e := adapters.StoredEvent{
			ID:        uuid.NewString(),
			StreamID:  streamID,
			Type:      event.Type,
			Data:      event.Data,
			Metadata:  event.Metadata,
			Version:   currentVersion,
			Timestamp: now,
		}
		if e.Data == nil {
			e.Data = []byte{}
		}

		var position int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO events (event_id, stream_id, version, event_type, data, metadata, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING global_position`,
			e.ID, streamID, e.Version, e.Type, e.Data, string(metadata), now.UnixNano(),
		).Scan(&position)
		if isConstraintError(err) {
			return nil, adapters.NewConcurrencyError(streamID, expectedVersion, currentVersion-1)
		}
		if err != nil {
			return nil, wrap("insert event", err)
		}
		e.GlobalPosition = uint64(position) // #nosec G115 - AUTOINCREMENT is positive
		stored[i] = e
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE streams SET version = ?, updated_at = ? WHERE stream_id = ?`,
		currentVersion, now.UnixNano(), streamID,
	)
	if err != nil {
		return nil, wrap("update stream version", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap("commit append", err)
	}
	return stored, nil
}

const eventColumns = `global_position, event_id, stream_id, version, event_type, data, metadata, timestamp`

// Load retrieves events of a stream with a version greater than fromVersion.
func (a *SQLiteAdapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE stream_id = ? AND version > ? ORDER BY version`,
		streamID, fromVersion,
	)
	if err != nil {
		return nil, wrap("load", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LoadFromPosition retrieves events after a global position, across all streams.
func (a *SQLiteAdapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE global_position > ? ORDER BY global_position LIMIT ?`,
		int64(fromPosition), adapters.LoadLimit(limit), // #nosec G115 - positions come from AUTOINCREMENT
	)
	if err != nil {
		return nil, wrap("load from position", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]adapters.StoredEvent, error) {
	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		var (
			event     adapters.StoredEvent
			position  int64
			metadata  sql.NullString
			timestamp int64
		)
		err := rows.Scan(
			&position,
			&event.ID,
			&event.StreamID,
			&event.Version,
			&event.Type,
			&event.Data,
			&metadata,
			&timestamp,
		)
		if err != nil {
			return nil, wrap("scan event", err)
		}
		event.GlobalPosition = uint64(position) // #nosec G115 - AUTOINCREMENT is positive
		event.Timestamp = time.Unix(0, timestamp).UTC()

		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("occurrent/sqlite: failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, wrap("iterate events", err)
	}
	return events, nil
}

// GetStreamInfo returns metadata about a stream.
func (a *SQLiteAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	var (
		info             adapters.StreamInfo
		created, updated int64
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT stream_id, category, version, created_at, updated_at FROM streams WHERE stream_id = ?`,
		streamID,
	).Scan(&info.StreamID, &info.Category, &info.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adapters.NewStreamNotFoundError(streamID)
	}
	if err != nil {
		return nil, wrap("get stream info", err)
	}

	info.EventCount = info.Version
	info.CreatedAt = time.Unix(0, created).UTC()
	info.UpdatedAt = time.Unix(0, updated).UTC()
	return &info, nil
}

// GetLastPosition returns the global position of the last stored event.
func (a *SQLiteAdapter) GetLastPosition(ctx context.Context) (uint64, error) {
	if a.closed.Load() {
		return 0, adapters.ErrAdapterClosed
	}

	var pos sql.NullInt64
	if err := a.db.QueryRowContext(ctx, `SELECT MAX(global_position) FROM events`).Scan(&pos); err != nil {
		return 0, wrap("get last position", err)
	}
	if pos.Valid {
		return uint64(pos.Int64), nil // #nosec G115 - AUTOINCREMENT is positive
	}
	return 0, nil
}

// Ping checks that the database is usable.
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	return wrap("ping", a.db.PingContext(ctx))
}

// Close closes the database.
func (a *SQLiteAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}

// wrap annotates a driver error. Busy and locked databases are reported as unavailable.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isBusyError(err) {
		return adapters.Unavailable("sqlite "+op, err)
	}
	return fmt.Errorf("occurrent/sqlite: %s: %w", op, err)
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isBusyError(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
