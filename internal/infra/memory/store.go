// Package memory provides an in-process StatsStore. It keeps the encoded
// record exactly as a remote store would, so codec and version behavior
// match the real gateways.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

type row struct {
	data    []byte
	version int64
}

// Store is a map-backed StatsStore.
type Store struct {
	mu   sync.RWMutex
	rows map[string]row

	// SaveHook, when set, runs before every Save and can fail it.
	SaveHook func(userID string) error
}

// New creates an empty store.
func New() *Store {
	return &Store{rows: make(map[string]row)}
}

// Load implements domain.StatsStore.
func (s *Store) Load(ctx context.Context, userID string) (domain.StatsRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.StatsRecord{}, err
	}
	s.mu.RLock()
	r, ok := s.rows[userID]
	s.mu.RUnlock()
	if !ok {
		return domain.StatsRecord{}, domain.ErrStatsNotFound
	}
	stats, err := domain.DecodeUserStats(r.data)
	if err != nil {
		return domain.StatsRecord{Version: r.version}, err
	}
	return domain.StatsRecord{Stats: stats, Version: r.version}, nil
}

// Save implements domain.StatsStore.
func (s *Store) Save(ctx context.Context, userID string, stats domain.UserStats, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.SaveHook != nil {
		if err := s.SaveHook(userID); err != nil {
			return 0, err
		}
	}
	data, err := domain.EncodeUserStats(stats)
	if err != nil {
		return 0, fmt.Errorf("encode stats: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[userID].version != expectedVersion {
		return 0, domain.ErrVersionConflict
	}
	next := expectedVersion + 1
	s.rows[userID] = row{data: data, version: next}
	return next, nil
}

// Put stores raw bytes as the user's record and bumps the version. It is
// meant for seeding and for simulating another writer.
func (s *Store) Put(userID string, data []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.rows[userID].version + 1
	s.rows[userID] = row{data: append([]byte(nil), data...), version: next}
	return next
}

// Raw returns the stored bytes and version.
func (s *Store) Raw(userID string) ([]byte, int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[userID]
	return r.data, r.version, ok
}

// TopByXP implements domain.Leaderboard. Undecodable records are skipped.
func (s *Store) TopByXP(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.LeaderboardEntry, 0, len(s.rows))
	for id, r := range s.rows {
		stats, err := domain.DecodeUserStats(r.data)
		if err != nil {
			continue
		}
		out = append(out, domain.LeaderboardEntry{UserID: id, XP: stats.XP})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements domain.StatsStore.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements domain.StatsStore.
func (s *Store) Close() error { return nil }
