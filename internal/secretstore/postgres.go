package secretstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	migrations "github.com/rallyops/rallypoint/migrations/postgres"
)

// Postgres backs the store with a relational table whose primary key is the
// secret key: INSERT ... ON CONFLICT DO NOTHING gives the same at-most-one
// winner guarantee as a conditional write, with a strongly consistent read
// path. Schema lives in migrations/postgres.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// ensureSchema applies the embedded schema. Every statement is idempotent,
// so concurrent agents can all run it at startup.
func (p *Postgres) ensureSchema(ctx context.Context) error {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	for _, e := range entries {
		sql, err := migrations.FS.ReadFile(e.Name())
		if err != nil {
			return fmt.Errorf("postgres schema %s: %w", e.Name(), err)
		}
		if _, err := p.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("postgres schema %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, time.Time, error) {
	var (
		value     string
		createdAt time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT value, created_at FROM cluster_secrets WHERE key = $1`, key,
	).Scan(&value, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", time.Time{}, ErrNotFound
		}
		return "", time.Time{}, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, createdAt, nil
}

func (p *Postgres) CreateIfAbsent(ctx context.Context, key, value string) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO cluster_secrets (key, value, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO NOTHING`, key, value)
	if err != nil {
		return fmt.Errorf("postgres insert %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }
