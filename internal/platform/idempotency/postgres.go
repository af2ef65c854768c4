package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hanko-field/orderledger/internal/platform/postgres"
)

// PostgresStore keeps records in the idempotency_keys table.
type PostgresStore struct {
	db *postgres.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps db.
func NewPostgresStore(db *postgres.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: postgres db is required")
	}
	return &PostgresStore{db: db}, nil
}

// An expired row is taken over in place, so the upsert only fires when the stored key has lapsed.
const reserveSQL = `
INSERT INTO idempotency_keys (key, fingerprint, status, status_code, headers, body, created_at, updated_at, expires_at)
VALUES ($1, $2, 'pending', 0, '{}'::jsonb, NULL, $3, $3, $4)
ON CONFLICT (key) DO UPDATE SET
    fingerprint = EXCLUDED.fingerprint,
    status      = 'pending',
    status_code = 0,
    headers     = '{}'::jsonb,
    body        = NULL,
    created_at  = EXCLUDED.created_at,
    updated_at  = EXCLUDED.updated_at,
    expires_at  = EXCLUDED.expires_at
WHERE idempotency_keys.expires_at <= $3
RETURNING key`

const selectRecordSQL = `
SELECT key, fingerprint, status, status_code, headers, body, created_at, updated_at, expires_at
FROM idempotency_keys
WHERE key = $1`

func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	key = trimKey(key)
	now = now.UTC()
	expires := now.Add(normalizeTTL(ttl))
	q := s.db.Querier(ctx)

	var inserted string
	err := q.QueryRow(ctx, reserveSQL, key, fingerprint, now, expires).Scan(&inserted)
	switch {
	case err == nil:
		return Reservation{State: ReservationStateNew, Record: Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   expires,
		}}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return Reservation{}, postgres.WrapError("idempotency.reserve", err)
	}

	record, err := scanRecord(q.QueryRow(ctx, selectRecordSQL, key))
	if err != nil {
		return Reservation{}, postgres.WrapError("idempotency.load", err)
	}
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	key = trimKey(key)
	now = now.UTC()
	headers := storableHeaders(resp.Headers)
	if headers == nil {
		headers = map[string][]string{}
	}

	tag, err := s.db.Querier(ctx).Exec(ctx, `
UPDATE idempotency_keys
SET status = 'completed', status_code = $3, headers = $4, body = $5, updated_at = $6, expires_at = $7
WHERE key = $1 AND fingerprint = $2`,
		key, fingerprint, resp.Status, headers, resp.Body, now, now.Add(normalizeTTL(ttl)))
	if err != nil {
		return postgres.WrapError("idempotency.save", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.db.Querier(ctx).Exec(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND fingerprint = $2 AND status = 'pending'`,
		trimKey(key), fingerprint)
	return postgres.WrapError("idempotency.release", err)
}

// CleanupExpired deletes at most limit expired rows per call so a backlog never holds long locks.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	tag, err := s.db.Querier(ctx).Exec(ctx, `
DELETE FROM idempotency_keys
WHERE key IN (
    SELECT key FROM idempotency_keys
    WHERE expires_at <= $1
    ORDER BY expires_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)`, now.UTC(), limit)
	if err != nil {
		return 0, postgres.WrapError("idempotency.cleanup", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		record  Record
		status  string
		headers map[string][]string
	)
	if err := row.Scan(
		&record.Key,
		&record.Fingerprint,
		&status,
		&record.ResponseStatus,
		&headers,
		&record.ResponseBody,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.ExpiresAt,
	); err != nil {
		return Record{}, err
	}
	record.Status = Status(status)
	if len(headers) > 0 {
		record.ResponseHeaders = headers
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return record, nil
}
