package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig tunes the connection pool behind the Postgres room store.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AcquireTimeout  time.Duration
	ApplicationName string
}

// PostgresStore persists room blobs in a single upsert table so multiple
// server replicas can share state behind a lease-holding frontend.
type PostgresStore struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// NewPostgresStore opens a pooled connection and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage: postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres pool: %w", err)
	}
	store := &PostgresStore{pool: pool, acquireTimeout: cfg.AcquireTimeout}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS room_blobs (
	room_key   TEXT        NOT NULL,
	kind       TEXT        NOT NULL,
	payload    JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_key, kind)
)
`)
	if err != nil {
		return fmt.Errorf("storage: ensure room_blobs schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.acquireTimeout > 0 {
		return context.WithTimeout(ctx, s.acquireTimeout)
	}
	return ctx, func() {}
}

// Get implements RoomStore.
func (s *PostgresStore) Get(ctx context.Context, roomKey string, kind Kind) ([]byte, bool, error) {
	if s == nil || s.pool == nil {
		return nil, false, ErrClosed
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	var payload []byte
	err := s.pool.QueryRow(opCtx, `
SELECT payload FROM room_blobs WHERE room_key = $1 AND kind = $2
`, roomKey, string(kind)).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: postgres get %s/%s: %w", roomKey, kind, err)
	}
	return payload, true, nil
}

// Put implements RoomStore.
func (s *PostgresStore) Put(ctx context.Context, roomKey string, kind Kind, payload []byte) error {
	if s == nil || s.pool == nil {
		return ErrClosed
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.pool.Exec(opCtx, `
INSERT INTO room_blobs (room_key, kind, payload, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (room_key, kind) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
`, roomKey, string(kind), payload)
	if err != nil {
		return fmt.Errorf("storage: postgres put %s/%s: %w", roomKey, kind, err)
	}
	return nil
}

// Close releases the pool, bounded by the context deadline.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
