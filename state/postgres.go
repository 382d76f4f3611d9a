package state

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PostgresStore keeps the snapshot in a PostgreSQL detector_states row.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connString, name string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to initialize detector_states")
	}

	if name == "" {
		name = DefaultName
	}
	return &PostgresStore{pool: pool, name: name}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS detector_states (
			name TEXT PRIMARY KEY,
			threshold DOUBLE PRECISION NOT NULL,
			total_attempts BIGINT NOT NULL,
			caught_cheats BIGINT NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Save upserts the named row.
func (p *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO detector_states (name, threshold, total_attempts, caught_cheats, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			threshold = EXCLUDED.threshold,
			total_attempts = EXCLUDED.total_attempts,
			caught_cheats = EXCLUDED.caught_cheats,
			saved_at = EXCLUDED.saved_at
	`, p.name, snap.Threshold, snap.TotalAttempts, snap.CaughtCheats, snap.SavedAt.UTC())
	return errors.Wrap(err, "save detector state")
}

// Load reads the named row.
func (p *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := p.pool.QueryRow(ctx, `
		SELECT threshold, total_attempts, caught_cheats, saved_at
		FROM detector_states WHERE name = $1
	`, p.name).Scan(&snap.Threshold, &snap.TotalAttempts, &snap.CaughtCheats, &snap.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "load detector state")
	}
	return snap, snap.Validate()
}

// Close releases the pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
