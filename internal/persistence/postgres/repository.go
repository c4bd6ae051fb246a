// Package postgres persists merged daily metrics, the offline record queue,
// and platform-ingested samples.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthsync/internal/domain"
)

// Repository wraps the pgx pool with the service's queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository on the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertDailyMetrics writes one merged record, replacing any previous merge
// for the same (user, day).
func (r *Repository) UpsertDailyMetrics(ctx context.Context, m domain.DailyMetrics) error {
	values, err := json.Marshal(m.Values)
	if err != nil {
		return &domain.StorageError{Op: "encode daily metrics", Err: err}
	}
	sources, err := json.Marshal(m.DataSources)
	if err != nil {
		return &domain.StorageError{Op: "encode data sources", Err: err}
	}

	const stmt = `INSERT INTO daily_metrics (user_id, day, values_json, data_sources, updated_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (user_id, day) DO UPDATE SET
            values_json = EXCLUDED.values_json,
            data_sources = EXCLUDED.data_sources,
            updated_at = EXCLUDED.updated_at`

	updatedAt := m.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	if _, err := r.pool.Exec(ctx, stmt, m.UserID, m.Day.Time(), values, sources, updatedAt); err != nil {
		return &domain.StorageError{Op: "upsert daily metrics", Err: err}
	}
	return nil
}

// DailyMetrics returns the merged records for the range in day order.
func (r *Repository) DailyMetrics(ctx context.Context, userID string, rng domain.DateRange) ([]domain.DailyMetrics, error) {
	const query = `SELECT day, values_json, data_sources, updated_at
        FROM daily_metrics
        WHERE user_id=$1 AND day BETWEEN $2 AND $3
        ORDER BY day`

	rows, err := r.pool.Query(ctx, query, userID, rng.From.Time(), rng.To.Time())
	if err != nil {
		return nil, &domain.StorageError{Op: "query daily metrics", Err: err}
	}
	defer rows.Close()

	var out []domain.DailyMetrics
	for rows.Next() {
		var (
			day     time.Time
			values  []byte
			sources []byte
			m       domain.DailyMetrics
		)
		if err := rows.Scan(&day, &values, &sources, &m.UpdatedAt); err != nil {
			return nil, &domain.StorageError{Op: "scan daily metrics", Err: err}
		}
		if err := json.Unmarshal(values, &m.Values); err != nil {
			return nil, &domain.StorageError{Op: "decode daily metrics", Err: err}
		}
		if err := json.Unmarshal(sources, &m.DataSources); err != nil {
			return nil, &domain.StorageError{Op: "decode data sources", Err: err}
		}
		m.UserID = userID
		m.Day = domain.DayOf(day)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "query daily metrics", Err: err}
	}
	return out, nil
}

// InsertLocalRecord appends one record to the offline queue.
func (r *Repository) InsertLocalRecord(ctx context.Context, rec domain.LocalRecord) error {
	const stmt = `INSERT INTO offline_queue (id, user_id, kind, payload, created_at)
        VALUES ($1,$2,$3,$4,$5)`

	if _, err := r.pool.Exec(ctx, stmt, rec.ID, rec.UserID, rec.Kind, []byte(rec.Payload), rec.CreatedAt); err != nil {
		return &domain.StorageError{Op: "enqueue record", Err: err}
	}
	return nil
}

// UnsyncedRecords returns pending queue entries in insertion order. A record
// stays in the table until the uploader confirms it, then DeleteRecord prunes
// it, so everything present is pending.
func (r *Repository) UnsyncedRecords(ctx context.Context, limit int) ([]domain.LocalRecord, error) {
	const query = `SELECT id, user_id, kind, payload, created_at
        FROM offline_queue
        ORDER BY created_at, id
        LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, &domain.StorageError{Op: "query queue", Err: err}
	}
	defer rows.Close()

	var out []domain.LocalRecord
	for rows.Next() {
		var (
			rec     domain.LocalRecord
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Kind, &payload, &rec.CreatedAt); err != nil {
			return nil, &domain.StorageError{Op: "scan queue record", Err: err}
		}
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "query queue", Err: err}
	}
	return out, nil
}

// DeleteRecord prunes a queue entry after its upload is confirmed.
func (r *Repository) DeleteRecord(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM offline_queue WHERE id=$1`, id); err != nil {
		return &domain.StorageError{Op: "delete queue record", Err: err}
	}
	return nil
}

// PendingCount reports the queue depth, exported as a gauge.
func (r *Repository) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM offline_queue`).Scan(&n); err != nil {
		return 0, &domain.StorageError{Op: "count queue", Err: err}
	}
	return n, nil
}

// UpsertPlatformSample stores one day of client-ingested platform data.
// Re-ingesting a day replaces the previous values.
func (r *Repository) UpsertPlatformSample(ctx context.Context, userID, providerID string, sample domain.ProviderSample) error {
	values, err := json.Marshal(sample.Values)
	if err != nil {
		return &domain.StorageError{Op: "encode platform sample", Err: err}
	}

	const stmt = `INSERT INTO platform_samples (user_id, provider, day, values_json, ingested_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (user_id, provider, day) DO UPDATE SET
            values_json = EXCLUDED.values_json,
            ingested_at = EXCLUDED.ingested_at`

	if _, err := r.pool.Exec(ctx, stmt, userID, providerID, sample.Day.Time(), values, time.Now().UTC()); err != nil {
		return &domain.StorageError{Op: "upsert platform sample", Err: err}
	}
	return nil
}

// PlatformSamples reads back ingested samples for the range, satisfying the
// platform adapters' sample source.
func (r *Repository) PlatformSamples(ctx context.Context, userID, providerID string, rng domain.DateRange) ([]domain.ProviderSample, error) {
	const query = `SELECT day, values_json
        FROM platform_samples
        WHERE user_id=$1 AND provider=$2 AND day BETWEEN $3 AND $4
        ORDER BY day`

	rows, err := r.pool.Query(ctx, query, userID, providerID, rng.From.Time(), rng.To.Time())
	if err != nil {
		return nil, &domain.StorageError{Op: "query platform samples", Err: err}
	}
	defer rows.Close()

	var out []domain.ProviderSample
	for rows.Next() {
		var (
			day    time.Time
			values []byte
			s      domain.ProviderSample
		)
		if err := rows.Scan(&day, &values); err != nil {
			return nil, &domain.StorageError{Op: "scan platform sample", Err: err}
		}
		if err := json.Unmarshal(values, &s.Values); err != nil {
			return nil, &domain.StorageError{Op: "decode platform sample", Err: err}
		}
		s.Day = domain.DayOf(day)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "query platform samples", Err: err}
	}
	return out, nil
}

// LastSyncedAt returns the newest merge time for the user, or zero when the
// user has never synced.
func (r *Repository) LastSyncedAt(ctx context.Context, userID string) (time.Time, error) {
	var t *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MAX(updated_at) FROM daily_metrics WHERE user_id=$1`, userID).Scan(&t)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, &domain.StorageError{Op: "query last sync", Err: err}
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}
