package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// GetPosition returns the stored position of a subscription.
func (a *SQLiteAdapter) GetPosition(ctx context.Context, subscriptionID string) (uint64, bool, error) {
	if a.closed.Load() {
		return 0, false, adapters.ErrAdapterClosed
	}
	if subscriptionID == "" {
		return 0, false, adapters.ErrEmptyKey
	}

	var pos int64
	err := a.db.QueryRowContext(ctx,
		`SELECT position FROM subscription_positions WHERE subscription_id = ?`, subscriptionID,
	).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("get position", err)
	}
	return uint64(pos), true, nil // #nosec G115 - stored from uint64
}

// SetPosition stores the position of a subscription.
func (a *SQLiteAdapter) SetPosition(ctx context.Context, subscriptionID string, position uint64) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if subscriptionID == "" {
		return adapters.ErrEmptyKey
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO subscription_positions (subscription_id, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (subscription_id) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at`,
		subscriptionID, int64(position), a.now().UnixNano(), // #nosec G115 - global positions fit INTEGER
	)
	return wrap("set position", err)
}

// DeletePosition removes the stored position of a subscription.
func (a *SQLiteAdapter) DeletePosition(ctx context.Context, subscriptionID string) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, `DELETE FROM subscription_positions WHERE subscription_id = ?`, subscriptionID)
	return wrap("delete position", err)
}

// GetView returns the view stored under projection and key, or nil.
func (a *SQLiteAdapter) GetView(ctx context.Context, projection, key string) (*adapters.ViewRecord, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	if projection == "" || key == "" {
		return nil, adapters.ErrEmptyKey
	}

	record := adapters.ViewRecord{Projection: projection, Key: key}
	var updated int64
	err := a.db.QueryRowContext(ctx,
		`SELECT version, data, updated_at FROM views WHERE projection = ? AND view_key = ?`,
		projection, key,
	).Scan(&record.Version, &record.Data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get view", err)
	}
	record.UpdatedAt = time.Unix(0, updated).UTC()
	return &record, nil
}

// SaveView inserts or replaces a view together with its version.
func (a *SQLiteAdapter) SaveView(ctx context.Context, record adapters.ViewRecord) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if record.Projection == "" || record.Key == "" {
		return adapters.ErrEmptyKey
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = a.now()
	}
	if record.Data == nil {
		record.Data = []byte{}
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO views (projection, view_key, version, data, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (projection, view_key) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		record.Projection, record.Key, record.Version, record.Data, record.UpdatedAt.UnixNano(),
	)
	return wrap("save view", err)
}

// ListViews returns every view of a projection ordered by key.
func (a *SQLiteAdapter) ListViews(ctx context.Context, projection string) ([]adapters.ViewRecord, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT view_key, version, data, updated_at FROM views WHERE projection = ? ORDER BY view_key`,
		projection,
	)
	if err != nil {
		return nil, wrap("list views", err)
	}
	defer rows.Close()

	records := make([]adapters.ViewRecord, 0)
	for rows.Next() {
		record := adapters.ViewRecord{Projection: projection}
		var updated int64
		if err := rows.Scan(&record.Key, &record.Version, &record.Data, &updated); err != nil {
			return nil, wrap("scan view", err)
		}
		record.UpdatedAt = time.Unix(0, updated).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate views", err)
	}
	return records, nil
}

// DeleteViews removes every view of a projection.
func (a *SQLiteAdapter) DeleteViews(ctx context.Context, projection string) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, `DELETE FROM views WHERE projection = ?`, projection)
	return wrap("delete views", err)
}
