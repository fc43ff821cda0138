// Package postgres stores user stats in PostgreSQL for deployments where
// several engine instances share one database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

// Config holds pool settings.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns production pool defaults for dsn.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Store is a domain.StatsStore backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
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

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Load returns the user's record and version.
func (s *Store) Load(ctx context.Context, userID string) (domain.StatsRecord, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT record, version FROM user_stats WHERE user_id = $1`, userID,
	).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StatsRecord{}, domain.ErrStatsNotFound
	}
	if err != nil {
		return domain.StatsRecord{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	stats, err := domain.DecodeUserStats(raw)
	if err != nil {
		return domain.StatsRecord{Version: version}, err
	}
	return domain.StatsRecord{Stats: stats, Version: version}, nil
}

// Save writes stats if the row is still at expectedVersion (0 = absent).
func (s *Store) Save(ctx context.Context, userID string, stats domain.UserStats, expectedVersion int64) (int64, error) {
	data, err := domain.EncodeUserStats(stats)
	if err != nil {
		return 0, fmt.Errorf("encode stats: %w", err)
	}
	next := expectedVersion + 1

	var sql string
	var args []any
	if expectedVersion == 0 {
		sql = `INSERT INTO user_stats (user_id, record, version, updated_at)
		       VALUES ($1, $2, $3, NOW())
		       ON CONFLICT (user_id) DO NOTHING`
		args = []any{userID, data, next}
	} else {
		sql = `UPDATE user_stats SET record = $2, version = $3, updated_at = NOW()
		       WHERE user_id = $1 AND version = $4`
		args = []any{userID, data, next, expectedVersion}
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, domain.ErrVersionConflict
	}
	return next, nil
}

// ─── Migrations ─────────────────────────────────────────────────────────────

type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{1, "create_user_stats", `
		CREATE TABLE IF NOT EXISTS user_stats (
			user_id    TEXT PRIMARY KEY,
			record     JSONB NOT NULL,
			version    BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{2, "index_user_stats_xp", `
		CREATE INDEX IF NOT EXISTS idx_user_stats_xp ON user_stats (((record->>'xp')::bigint) DESC)`},
}

// migrate applies each pending migration in its own transaction and
// records it in schema_migrations.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("postgres: read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name)
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// TopByXP returns up to limit users ordered by XP, highest first. Ties
// break on user id.
func (s *Store) TopByXP(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, (record->>'xp')::bigint FROM user_stats
		 ORDER BY (record->>'xp')::bigint DESC, user_id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: top by xp: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LeaderboardEntry, error) {
		var e domain.LeaderboardEntry
		err := row.Scan(&e.UserID, &e.XP)
		return e, err
	})
}
