package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the processed set in a PostgreSQL table, for relays
// that share one dedupe history across hosts. Claims live in a second table so
// only one relay at a time works on an event.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS relay_processed_events (
    event_key TEXT PRIMARY KEY,
    outcome TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    dest_tx_hash TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS relay_event_claims (
    event_key TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT outcome, reason, dest_tx_hash, recorded_at
FROM relay_processed_events
WHERE event_key = $1
`, key)

	rec := Record{Key: key}
	if err := row.Scan(&rec.Outcome, &rec.Reason, &rec.DestTxHash, &rec.RecordedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, record Record) (bool, error) {
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	tag, err := p.pool.Exec(ctx, `
INSERT INTO relay_processed_events (event_key, outcome, reason, dest_tx_hash, recorded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (event_key) DO NOTHING
`, record.Key, record.Outcome, record.Reason, record.DestTxHash, record.RecordedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Claim upserts the lease. The conflict branch only fires for our own lease or
// an expired one, so zero affected rows means another relay holds it.
func (p *PostgresStore) Claim(ctx context.Context, key, owner string, lease time.Duration) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
INSERT INTO relay_event_claims (event_key, owner, expires_at)
VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond')
ON CONFLICT (event_key) DO UPDATE
SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
WHERE relay_event_claims.owner = EXCLUDED.owner OR relay_event_claims.expires_at <= now()
`, key, owner, lease.Milliseconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) Unclaim(ctx context.Context, key, owner string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM relay_event_claims WHERE event_key = $1 AND owner = $2`, key, owner)
	return err
}
