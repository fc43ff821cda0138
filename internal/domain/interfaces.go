package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// StatsRecord is a loaded aggregate together with its store version.
// Version 0 means no record exists yet.
type StatsRecord struct {
	Stats   UserStats
	Version int64
}

// StatsStore is the persistence gateway for UserStats, keyed by user id.
// Saves are compare-and-swap on the version so concurrent writers cannot
// silently overwrite each other.
type StatsStore interface {
	// Load returns the stored record. It returns ErrStatsNotFound when the
	// user has none, and an error wrapping ErrCorruptRecord (with Version
	// still populated) when the stored bytes cannot be decoded.
	Load(ctx context.Context, userID string) (StatsRecord, error)

	// Save writes stats if the stored version still equals expectedVersion
	// and returns the new version. A mismatch yields ErrVersionConflict.
	Save(ctx context.Context, userID string, stats UserStats, expectedVersion int64) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	Close() error
}

// TransitionPublisher fans out transitions to notification collaborators.
type TransitionPublisher interface {
	Publish(ctx context.Context, batch TransitionBatch) error
}

// LeaderboardEntry is one row of the XP ranking. Level is filled in by
// the reader from XP, never stored.
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	XP     int64  `json:"xp"`
	Level  int    `json:"level"`
}

// Leaderboard ranks users by XP. Stores that can answer it cheaply
// implement it alongside StatsStore.
type Leaderboard interface {
	TopByXP(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}
