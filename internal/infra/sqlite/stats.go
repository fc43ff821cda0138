package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

// ─── User Stats (domain.StatsStore) ─────────────────────────────────────────

// Load returns the user's record and version.
func (d *DB) Load(ctx context.Context, userID string) (domain.StatsRecord, error) {
	var (
		raw     string
		version int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT record, version FROM user_stats WHERE user_id = ?`, userID,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StatsRecord{}, domain.ErrStatsNotFound
	}
	if err != nil {
		return domain.StatsRecord{}, fmt.Errorf("load stats: %w", err)
	}

	stats, err := domain.DecodeUserStats([]byte(raw))
	if err != nil {
		return domain.StatsRecord{Version: version}, err
	}
	return domain.StatsRecord{Stats: stats, Version: version}, nil
}

// Save writes the record if the stored version is still expectedVersion.
// Version 0 means the caller believes no row exists yet.
func (d *DB) Save(ctx context.Context, userID string, stats domain.UserStats, expectedVersion int64) (int64, error) {
	data, err := domain.EncodeUserStats(stats)
	if err != nil {
		return 0, fmt.Errorf("encode stats: %w", err)
	}
	now := time.Now().Unix()
	next := expectedVersion + 1

	var result sql.Result
	if expectedVersion == 0 {
		result, err = d.db.ExecContext(ctx,
			`INSERT INTO user_stats (user_id, record, version, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			userID, string(data), next, now,
		)
	} else {
		result, err = d.db.ExecContext(ctx,
			`UPDATE user_stats SET record = ?, version = ?, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			string(data), next, now, userID, expectedVersion,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("save stats: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("save stats: %w", err)
	}
	if n == 0 {
		return 0, domain.ErrVersionConflict
	}
	return next, nil
}

// PutRaw overwrites the stored bytes for a user and bumps the version.
// Used by repair tooling and tests.
func (d *DB) PutRaw(ctx context.Context, userID string, raw []byte) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, record, version, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(user_id) DO UPDATE SET record=excluded.record,
			version=user_stats.version+1, updated_at=excluded.updated_at`,
		userID, string(raw), time.Now().Unix(),
	)
	return err
}

// CountUsers returns how many users have a stored record.
func (d *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_stats`).Scan(&n)
	return n, err
}

// TopByXP returns up to limit users ordered by XP, highest first.
// Records that are not valid JSON are left out.
func (d *DB) TopByXP(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, COALESCE(CAST(json_extract(record, '$.xp') AS INTEGER), 0) AS xp
		 FROM user_stats WHERE json_valid(record)
		 ORDER BY xp DESC, user_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top by xp: %w", err)
	}
	defer rows.Close()

	var out []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.XP); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Transition Log (domain.TransitionPublisher) ────────────────────────────

// Publish appends a transition batch to the history.
func (d *DB) Publish(ctx context.Context, batch domain.TransitionBatch) error {
	data, err := json.Marshal(batch.Transitions)
	if err != nil {
		return fmt.Errorf("encode transitions: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO transition_log (event_id, user_id, kind, transitions, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		batch.EventID, batch.UserID, string(batch.Kind), string(data), batch.At.UnixMilli(),
	)
	return err
}

// RecentTransitions returns up to limit batches for a user, newest first.
func (d *DB) RecentTransitions(ctx context.Context, userID string, limit int) ([]domain.TransitionBatch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT event_id, kind, transitions, created_at FROM transition_log
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TransitionBatch
	for rows.Next() {
		var (
			b    domain.TransitionBatch
			kind string
			raw  string
			at   int64
		)
		if err := rows.Scan(&b.EventID, &kind, &raw, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &b.Transitions); err != nil {
			return nil, fmt.Errorf("decode transitions %s: %w", b.EventID, err)
		}
		b.UserID = userID
		b.Kind = domain.EventKind(kind)
		b.At = time.UnixMilli(at).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}
