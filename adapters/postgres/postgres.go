// Package postgres provides a PostgreSQL implementation of the event store adapter,
// the position store and the view store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// DefaultSchema is the schema used when WithSchema is not given.
const DefaultSchema = "occurrent"

// Ensure PostgresAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter = (*PostgresAdapter)(nil)
	_ adapters.PositionStore     = (*PostgresAdapter)(nil)
	_ adapters.ViewStore         = (*PostgresAdapter)(nil)
	_ adapters.HealthChecker     = (*PostgresAdapter)(nil)
)

// PostgresAdapter stores events, subscription positions and views in one schema.
//
// Appends take a transaction-scoped advisory lock on the schema, so global
// positions become visible in the order they were assigned and a reader
// following LoadFromPosition never skips an event committed late.
type PostgresAdapter struct {
	db     *sql.DB
	schema string
	ownsDB bool
	closed atomic.Bool
}

// Option configures a PostgresAdapter.
type Option func(*PostgresAdapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *PostgresAdapter) {
		a.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *PostgresAdapter) {
		a.db.SetConnMaxLifetime(d)
	}
}

// NewAdapter opens a connection pool and creates an adapter owning it.
func NewAdapter(connStr string, opts ...Option) (*PostgresAdapter, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("occurrent/postgres: failed to open database: %w", err)
	}

	adapter := NewAdapterWithDB(db, opts...)
	adapter.ownsDB = true
	return adapter, nil
}

// NewAdapterWithDB creates an adapter on an existing connection pool.
// Close does not close a pool passed in this way.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *PostgresAdapter {
	adapter := &PostgresAdapter{
		db:     db,
		schema: DefaultSchema,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// table returns the quoted, schema-qualified name of a table.
func (a *PostgresAdapter) table(name string) string {
	return pq.QuoteIdentifier(a.schema) + "." + pq.QuoteIdentifier(name)
}

// Initialize creates the schema and tables. It is idempotent.
func (a *PostgresAdapter) Initialize(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(a.schema),
		`CREATE TABLE IF NOT EXISTS ` + a.table("streams") + ` (
			stream_id   TEXT PRIMARY KEY,
			category    TEXT NOT NULL,
			version     BIGINT NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + a.table("events") + ` (
			global_position BIGSERIAL PRIMARY KEY,
			event_id        TEXT NOT NULL UNIQUE,
			stream_id       TEXT NOT NULL,
			version         BIGINT NOT NULL,
			event_type      TEXT NOT NULL,
			data            BYTEA NOT NULL,
			metadata        JSONB,
			timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (stream_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_streams_category ON ` + a.table("streams") + ` (category)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON ` + a.table("events") + ` (event_type)`,
		`CREATE TABLE IF NOT EXISTS ` + a.table("subscription_positions") + ` (
			subscription_id TEXT PRIMARY KEY,
			position        BIGINT NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + a.table("views") + ` (
			projection  TEXT NOT NULL,
			view_key    TEXT NOT NULL,
			version     BIGINT NOT NULL,
			data        BYTEA NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
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
func (a *PostgresAdapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
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

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a.schema); err != nil {
		return nil, wrap("lock", err)
	}

	var currentVersion int64
	streamExists := true
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM `+a.table("streams")+` WHERE stream_id = $1 FOR UPDATE`,
		streamID,
	).Scan(&currentVersion)
	if errors.Is(err, sql.ErrNoRows) {
		streamExists = false
	} else if err != nil {
		return nil, wrap("read stream version", err)
	}

	if err := adapters.CheckVersion(streamID, expectedVersion, currentVersion, streamExists); err != nil {
		return nil, err
	}

	if !streamExists {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO `+a.table("streams")+` (stream_id, category, version) VALUES ($1, $2, 0)`,
			streamID, adapters.Category(streamID),
		)
		if isUniqueViolation(err) {
			return nil, adapters.NewConcurrencyError(streamID, expectedVersion, 0)
		}
		if err != nil {
			return nil, wrap("create stream", err)
		}
	}

	stored := make([]adapters.StoredEvent, len(events))
	for i, event := range events {
		currentVersion++

		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("occurrent/postgres: failed to marshal metadata: %w", err)
		}

		e := adapters.StoredEvent{
			ID:       uuid.NewString(),
			StreamID: streamID,
			Type:     event.Type,
			Data:     event.Data,
			Metadata: event.Metadata,
			Version:  currentVersion,
		}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO `+a.table("events")+` (event_id, stream_id, version, event_type, data, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING global_position, timestamp`,
			e.ID, streamID, e.Version, e.Type, e.Data, metadata,
		).Scan(&e.GlobalPosition, &e.Timestamp)
		if isUniqueViolation(err) {
			return nil, adapters.NewConcurrencyError(streamID, expectedVersion, currentVersion-1)
		}
		if err != nil {
			return nil, wrap("insert event", err)
		}
		stored[i] = e
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE `+a.table("streams")+` SET version = $1, updated_at = NOW() WHERE stream_id = $2`,
		currentVersion, streamID,
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
func (a *PostgresAdapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM `+a.table("events")+`
		WHERE stream_id = $1 AND version > $2
		ORDER BY version`,
		streamID, fromVersion,
	)
	if err != nil {
		return nil, wrap("load", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LoadFromPosition retrieves events after a global position, across all streams.
func (a *PostgresAdapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM `+a.table("events")+`
		WHERE global_position > $1
		ORDER BY global_position
		LIMIT $2`,
		int64(fromPosition), adapters.LoadLimit(limit), // #nosec G115 - positions come from BIGSERIAL
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
		var event adapters.StoredEvent
		var position int64
		var metadata []byte

		err := rows.Scan(
			&position,
			&event.ID,
			&event.StreamID,
			&event.Version,
			&event.Type,
			&event.Data,
			&metadata,
			&event.Timestamp,
		)
		if err != nil {
			return nil, wrap("scan event", err)
		}
		event.GlobalPosition = uint64(position) // #nosec G115 - BIGSERIAL is positive

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("occurrent/postgres: failed to unmarshal metadata: %w", err)
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
func (a *PostgresAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	var info adapters.StreamInfo
	err := a.db.QueryRowContext(ctx,
		`SELECT stream_id, category, version, created_at, updated_at
		FROM `+a.table("streams")+` WHERE stream_id = $1`,
		streamID,
	).Scan(&info.StreamID, &info.Category, &info.Version, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adapters.NewStreamNotFoundError(streamID)
	}
	if err != nil {
		return nil, wrap("get stream info", err)
	}

	// Versions are dense, so the version is also the event count.
	info.EventCount = info.Version
	return &info, nil
}

// GetLastPosition returns the global position of the last stored event.
func (a *PostgresAdapter) GetLastPosition(ctx context.Context) (uint64, error) {
	if a.closed.Load() {
		return 0, adapters.ErrAdapterClosed
	}

	var pos sql.NullInt64
	err := a.db.QueryRowContext(ctx, `SELECT MAX(global_position) FROM `+a.table("events")).Scan(&pos)
	if err != nil {
		return 0, wrap("get last position", err)
	}
	if pos.Valid {
		return uint64(pos.Int64), nil // #nosec G115 - BIGSERIAL is positive
	}
	return 0, nil
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	return wrap("ping", a.db.PingContext(ctx))
}

// Close marks the adapter closed and closes the pool if the adapter opened it.
func (a *PostgresAdapter) Close() error {
	if a.closed.Swap(true) || !a.ownsDB {
		return nil
	}
	return a.db.Close()
}

// DB returns the underlying database connection.
func (a *PostgresAdapter) DB() *sql.DB {
	return a.db
}

// Schema returns the schema name.
func (a *PostgresAdapter) Schema() string {
	return a.schema
}
