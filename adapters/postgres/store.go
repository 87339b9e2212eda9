package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// GetPosition returns the stored position of a subscription.
func (a *PostgresAdapter) GetPosition(ctx context.Context, subscriptionID string) (uint64, bool, error) {
	if a.closed.Load() {
		return 0, false, adapters.ErrAdapterClosed
	}
	if subscriptionID == "" {
		return 0, false, adapters.ErrEmptyKey
	}

	var pos int64
	err := a.db.QueryRowContext(ctx,
		`SELECT position FROM `+a.table("subscription_positions")+` WHERE subscription_id = $1`,
		subscriptionID,
	).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("get position", err)
	}
	return uint64(pos), true, nil // #nosec G115 - positions are stored from uint64
}

// SetPosition stores the position of a subscription.
func (a *PostgresAdapter) SetPosition(ctx context.Context, subscriptionID string, position uint64) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if subscriptionID == "" {
		return adapters.ErrEmptyKey
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO `+a.table("subscription_positions")+` (subscription_id, position)
		VALUES ($1, $2)
		ON CONFLICT (subscription_id) DO UPDATE SET
			position = EXCLUDED.position,
			updated_at = NOW()`,
		subscriptionID, int64(position), // #nosec G115 - global positions fit BIGINT
	)
	return wrap("set position", err)
}

// DeletePosition removes the stored position of a subscription.
func (a *PostgresAdapter) DeletePosition(ctx context.Context, subscriptionID string) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx,
		`DELETE FROM `+a.table("subscription_positions")+` WHERE subscription_id = $1`,
		subscriptionID,
	)
	return wrap("delete position", err)
}

// GetView returns the view stored under projection and key, or nil.
func (a *PostgresAdapter) GetView(ctx context.Context, projection, key string) (*adapters.ViewRecord, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	if projection == "" || key == "" {
		return nil, adapters.ErrEmptyKey
	}

	record := adapters.ViewRecord{Projection: projection, Key: key}
	err := a.db.QueryRowContext(ctx,
		`SELECT version, data, updated_at FROM `+a.table("views")+`
		WHERE projection = $1 AND view_key = $2`,
		projection, key,
	).Scan(&record.Version, &record.Data, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get view", err)
	}
	return &record, nil
}

// SaveView inserts or replaces a view together with its version.
func (a *PostgresAdapter) SaveView(ctx context.Context, record adapters.ViewRecord) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if record.Projection == "" || record.Key == "" {
		return adapters.ErrEmptyKey
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO `+a.table("views")+` (projection, view_key, version, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (projection, view_key) DO UPDATE SET
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		record.Projection, record.Key, record.Version, record.Data, record.UpdatedAt,
	)
	return wrap("save view", err)
}

// ListViews returns every view of a projection ordered by key.
func (a *PostgresAdapter) ListViews(ctx context.Context, projection string) ([]adapters.ViewRecord, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT view_key, version, data, updated_at FROM `+a.table("views")+`
		WHERE projection = $1
		ORDER BY view_key`,
		projection,
	)
	if err != nil {
		return nil, wrap("list views", err)
	}
	defer rows.Close()

	records := make([]adapters.ViewRecord, 0)
	for rows.Next() {
		record := adapters.ViewRecord{Projection: projection}
		if err := rows.Scan(&record.Key, &record.Version, &record.Data, &record.UpdatedAt); err != nil {
			return nil, wrap("scan view", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate views", err)
	}
	return records, nil
}

// DeleteViews removes every view of a projection.
func (a *PostgresAdapter) DeleteViews(ctx context.Context, projection string) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, `DELETE FROM `+a.table("views")+` WHERE projection = $1`, projection)
	return wrap("delete views", err)
}
