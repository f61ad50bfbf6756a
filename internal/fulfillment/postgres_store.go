package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists pending fulfillments in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS pending_fulfillments (
    tx_hash TEXT PRIMARY KEY,
    request JSONB NOT NULL,
    status TEXT NOT NULL,
    attempts INT NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    next_attempt_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects using the DSN and ensures the table exists.
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

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Save(ctx context.Context, record Record) error {
	reqBlob, err := json.Marshal(record.Request)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO pending_fulfillments (tx_hash, request, status, attempts, last_error, next_attempt_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tx_hash) DO UPDATE
SET request = EXCLUDED.request,
    status = EXCLUDED.status,
    attempts = EXCLUDED.attempts,
    last_error = EXCLUDED.last_error,
    next_attempt_at = EXCLUDED.next_attempt_at,
    updated_at = EXCLUDED.updated_at
`, record.TxHash, reqBlob, record.Status, record.Attempts, record.LastError,
		record.NextAttemptAt, record.CreatedAt, record.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, txHash string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT tx_hash, request, status, attempts, last_error, next_attempt_at, created_at, updated_at
FROM pending_fulfillments
WHERE tx_hash = $1
`, txHash)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (p *PostgresStore) Pending(ctx context.Context) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
SELECT tx_hash, request, status, attempts, last_error, next_attempt_at, created_at, updated_at
FROM pending_fulfillments
WHERE status = $1
ORDER BY created_at
`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Resolve(ctx context.Context, txHash string) error {
	_, err := p.pool.Exec(ctx, `
UPDATE pending_fulfillments
SET status = $1, updated_at = $2
WHERE tx_hash = $3
`, StatusDelivered, time.Now().UTC(), txHash)
	return err
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var reqBlob []byte
	if err := row.Scan(&rec.TxHash, &reqBlob, &rec.Status, &rec.Attempts, &rec.LastError,
		&rec.NextAttemptAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reqBlob, &rec.Request); err != nil {
		return nil, err
	}
	return &rec, nil
}
