// Package redis provides a Redis-backed stats store and a pub/sub channel
// that fans transition batches out to every engine instance.
//
// Layout:
//   - altaper4mance:stats:<user>  hash {record, version}
//   - altaper4mance:transitions   pub/sub channel of Envelope JSON (default)
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

const (
	keyPrefix = "altaper4mance:stats:"

	// DefaultChannel carries transition batches between instances.
	DefaultChannel = "altaper4mance:transitions"
)

// Config holds connection settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns defaults for a local Redis.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewClient builds a client and pings it.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// ─── Stats Store ────────────────────────────────────────────────────────────

// Store is a domain.StatsStore on a Redis hash per user. Saves run in a
// WATCH/MULTI transaction so a concurrent writer turns into
// ErrVersionConflict.
type Store struct {
	client *redis.Client
}

// NewStore wraps client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func statsKey(userID string) string { return keyPrefix + userID }

// Load returns the user's record and version.
func (s *Store) Load(ctx context.Context, userID string) (domain.StatsRecord, error) {
	vals, err := s.client.HMGet(ctx, statsKey(userID), "record", "version").Result()
	if err != nil {
		return domain.StatsRecord{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	version, versionOK := storedVersion(vals[1])
	if vals[0] == nil {
		if !versionOK {
			return domain.StatsRecord{}, domain.ErrStatsNotFound
		}
		return domain.StatsRecord{Version: version}, fmt.Errorf("%w: record field missing", domain.ErrCorruptRecord)
	}
	if !versionOK {
		return domain.StatsRecord{}, fmt.Errorf("%w: version %v", domain.ErrCorruptRecord, vals[1])
	}
	raw, _ := vals[0].(string)
	stats, err := domain.DecodeUserStats([]byte(raw))
	if err != nil {
		return domain.StatsRecord{Version: version}, err
	}
	return domain.StatsRecord{Stats: stats, Version: version}, nil
}

// Save writes stats if the hash is still at expectedVersion (0 = absent).
func (s *Store) Save(ctx context.Context, userID string, stats domain.UserStats, expectedVersion int64) (int64, error) {
	data, err := domain.EncodeUserStats(stats)
	if err != nil {
		return 0, fmt.Errorf("encode stats: %w", err)
	}
	key := statsKey(userID)
	next := expectedVersion + 1

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "version").Result()
		var current int64
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			current, _ = storedVersion(cur)
		}
		if current != expectedVersion {
			return domain.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "record", string(data), "version", next)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, domain.ErrVersionConflict):
		return 0, domain.ErrVersionConflict
	default:
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// storedVersion reads a hash's version field. A missing or unparsable
// field reads as 0, the version Load reports for it, so the next Save
// overwrites the broken hash instead of failing forever.
func storedVersion(v any) (int64, bool) {
	str, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ─── Transition Fan-out ─────────────────────────────────────────────────────

// Envelope tags a batch with the instance that produced it.
type Envelope struct {
	Origin string                 `json:"origin"`
	Batch  domain.TransitionBatch `json:"batch"`
}

// Publisher is a domain.TransitionPublisher over Redis pub/sub.
type Publisher struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewPublisher publishes batches tagged with origin on channel.
func NewPublisher(client *redis.Client, channel, origin string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel, origin: origin}
}

// Publish sends batch on the configured channel.
func (p *Publisher) Publish(ctx context.Context, batch domain.TransitionBatch) error {
	data, err := json.Marshal(Envelope{Origin: p.origin, Batch: batch})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Subscriber relays batches published by other instances.
type Subscriber struct {
	client  *redis.Client
	channel string
	origin  string
	handler func(domain.TransitionBatch)
	log     *zap.Logger
}

// NewSubscriber calls handler for every batch whose origin differs from
// origin. Batches from this instance were already delivered locally.
func NewSubscriber(client *redis.Client, channel, origin string, handler func(domain.TransitionBatch), log *zap.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{client: client, channel: channel, origin: origin, handler: handler, log: log}
}

// Run blocks until ctx is done or the subscription closes.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis: transition subscription closed")
			}
			s.deliver(msg.Payload)
		}
	}
}

func (s *Subscriber) deliver(payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.log.Warn("dropping malformed transition message", zap.Error(err))
		return
	}
	if env.Origin == s.origin {
		return
	}
	s.handler(env.Batch)
}
