package progression

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/metrics"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/scheduler"
)

// maxConflictRounds bounds the load-rebase-save loop of one flush.
const maxConflictRounds = 8

// DefaultIdleTTL is how long a flushed user stays cached without activity.
const DefaultIdleTTL = 10 * time.Minute

// Service is the stateful front of the engine. It keeps the authoritative
// UserStats of every active user in memory, applies events to it one at a
// time per user, and writes it behind to the store with version checks.
type Service struct {
	store      domain.StatsStore
	dispatcher *Dispatcher
	writer     *scheduler.WriteBehind
	publishers []domain.TransitionPublisher
	idleTTL    time.Duration
	log        *zap.Logger

	mu    sync.Mutex
	users map[string]*userEntry
}

// userEntry is one user's in-memory state. sem admits one holder at a time
// and doubles as the per-user queue of pending mutations.
type userEntry struct {
	sem      chan struct{}
	loaded   bool
	stats    domain.UserStats // authoritative copy
	base     domain.UserStats // last state known to be in the store
	version  int64            // store version of base
	seq      uint64           // bumps on every change to stats
	savedSeq uint64           // seq of the last snapshot the store accepted
	lastUsed time.Time        // dispatcher clock at the last Stats or Dispatch
	evicted  bool             // dropped from Service.users; holders must re-fetch
}

func (e *userEntry) lock(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *userEntry) unlock() { <-e.sem }

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher adds a sink for transition batches.
func WithPublisher(p domain.TransitionPublisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.publishers = append(s.publishers, p)
		}
	}
}

// WithWriteBehind overrides the write-behind configuration.
func WithWriteBehind(cfg scheduler.WriteBehindConfig) ServiceOption {
	return func(s *Service) {
		s.writer = scheduler.NewWriteBehind(cfg, s.flushUser, s.log.Named("persister"))
	}
}

// WithIdleTTL sets how long a flushed user may sit unused before the cached
// copy is re-read from the store or evicted. Zero or less keeps users
// cached forever.
func WithIdleTTL(d time.Duration) ServiceOption {
	return func(s *Service) { s.idleTTL = d }
}

// NewService wires the engine to a store.
func NewService(store domain.StatsStore, d *Dispatcher, log *zap.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:      store,
		dispatcher: d,
		idleTTL:    DefaultIdleTTL,
		log:        log,
		users:      make(map[string]*userEntry),
	}
	s.writer = scheduler.NewWriteBehind(scheduler.DefaultWriteBehindConfig(), s.flushUser, log.Named("persister"))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatcher returns the underlying dispatcher.
func (s *Service) Dispatcher() *Dispatcher { return s.dispatcher }

// Run drives the write-behind workers and the idle sweep until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.writer.Run(ctx) })
	if s.idleTTL > 0 {
		g.Go(func() error {
			s.sweep(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) sweep(ctx context.Context) {
	every := s.idleTTL / 2
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 {
				s.log.Debug("evicted idle users", zap.Int("count", n))
			}
		}
	}
}

// EvictIdle drops every cached user that has nothing left to write and has
// been idle for the TTL. Users busy in another call are skipped.
func (s *Service) EvictIdle() int {
	if s.idleTTL <= 0 {
		return 0
	}
	now := s.dispatcher.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.users {
		select {
		case e.sem <- struct{}{}:
		default:
			continue
		}
		if e.seq == e.savedSeq && now.Sub(e.lastUsed) >= s.idleTTL {
			e.evicted = true
			delete(s.users, id)
			n++
		}
		e.unlock()
	}
	return n
}

// CachedUsers returns the number of users held in memory.
func (s *Service) CachedUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Flush writes every dirty user now.
func (s *Service) Flush(ctx context.Context) error { return s.writer.Flush(ctx) }

// PendingWrites returns the number of users with unsaved changes.
func (s *Service) PendingWrites() int { return s.writer.Pending() }

func (s *Service) entry(userID string) *userEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[userID]
	if !ok {
		e = &userEntry{sem: make(chan struct{}, 1)}
		s.users[userID] = e
	}
	return e
}

// acquire returns the user's entry with its lock held.
func (s *Service) acquire(ctx context.Context, userID string) (*userEntry, error) {
	for {
		e := s.entry(userID)
		if err := e.lock(ctx); err != nil {
			return nil, err
		}
		if !e.evicted {
			return e, nil
		}
		e.unlock()
	}
}

// ensureLoaded fills e from the store on first use. Must hold e's lock.
// A missing, corrupt or unreadable record starts the user from defaults;
// a later version conflict folds whatever the store really had back in.
// A clean entry idle past the TTL is re-read so other writers' progress
// shows up.
func (s *Service) ensureLoaded(ctx context.Context, userID string, e *userEntry) {
	now := s.dispatcher.Now()
	defer func() { e.lastUsed = now }()
	if e.loaded {
		if s.idleTTL > 0 && e.seq == e.savedSeq && now.Sub(e.lastUsed) >= s.idleTTL {
			s.refresh(ctx, userID, e)
		}
		return
	}
	rec, err := s.loadRecord(ctx, userID)
	if err != nil {
		s.log.Warn("load stats failed, starting from defaults",
			zap.String("user", userID), zap.Error(err))
		rec = domain.StatsRecord{Stats: domain.NewUserStats()}
	}
	rec.Stats.Level = LevelFor(rec.Stats.XP).Level
	e.stats = rec.Stats.Clone()
	e.base = rec.Stats
	e.version = rec.Version
	e.loaded = true
}

// refresh replaces a clean cached copy with the stored record. On any
// load error the cached copy stays.
func (s *Service) refresh(ctx context.Context, userID string, e *userEntry) {
	rec, err := s.store.Load(ctx, userID)
	if err != nil {
		s.log.Debug("refresh stats failed, keeping cached copy",
			zap.String("user", userID), zap.Error(err))
		return
	}
	metrics.StoreLoads.WithLabelValues("ok").Inc()
	if rec.Version == e.version {
		return
	}
	rec.Stats.Level = LevelFor(rec.Stats.XP).Level
	e.stats = rec.Stats.Clone()
	e.base = rec.Stats
	e.version = rec.Version
}

// loadRecord maps not-found and corrupt records to the default aggregate.
func (s *Service) loadRecord(ctx context.Context, userID string) (domain.StatsRecord, error) {
	rec, err := s.store.Load(ctx, userID)
	switch {
	case err == nil:
		metrics.StoreLoads.WithLabelValues("ok").Inc()
		return rec, nil
	case errors.Is(err, domain.ErrStatsNotFound):
		metrics.StoreLoads.WithLabelValues("not_found").Inc()
		return domain.StatsRecord{Stats: domain.NewUserStats()}, nil
	case errors.Is(err, domain.ErrCorruptRecord):
		metrics.StoreLoads.WithLabelValues("corrupt").Inc()
		s.log.Warn("corrupt stats record, treating as new user",
			zap.String("user", userID), zap.Int64("version", rec.Version), zap.Error(err))
		return domain.StatsRecord{Stats: domain.NewUserStats(), Version: rec.Version}, nil
	default:
		metrics.StoreLoads.WithLabelValues("error").Inc()
		return domain.StatsRecord{}, err
	}
}

// Stats returns a copy of the user's current stats.
func (s *Service) Stats(ctx context.Context, who domain.Identity) (domain.UserStats, error) {
	if !who.Authenticated() {
		return domain.UserStats{}, domain.ErrUnauthenticated
	}
	e, err := s.acquire(ctx, who.UserID)
	if err != nil {
		return domain.UserStats{}, err
	}
	defer e.unlock()
	s.ensureLoaded(ctx, who.UserID, e)
	return e.stats.Clone(), nil
}

// Dispatch applies ev for who. Events for one user are applied strictly
// one after another against the in-memory copy, so no event works from a
// stale snapshot. The write to the store happens later and its failure
// never fails the call. The only error is ctx ending while waiting.
func (s *Service) Dispatch(ctx context.Context, who domain.Identity, ev domain.RewardEvent) (Outcome, error) {
	start := time.Now()
	kind := string(ev.Kind())
	if !who.Authenticated() {
		metrics.EventsDispatched.WithLabelValues(kind, "skipped").Inc()
		return Outcome{Stats: domain.NewUserStats(), Skipped: true}, nil
	}

	e, err := s.acquire(ctx, who.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("dispatch %s: %w", kind, err)
	}
	s.ensureLoaded(ctx, who.UserID, e)
	before := e.stats.XP
	out := s.dispatcher.Apply(who, e.stats, ev)
	e.stats = out.Stats
	e.seq++
	out.Stats = e.stats.Clone()
	out.EventID = uuid.NewString()
	e.unlock()

	s.writer.MarkDirty(who.UserID)

	metrics.EventsDispatched.WithLabelValues(kind, "applied").Inc()
	metrics.XPGranted.Add(float64(out.Stats.XP - before))
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	recordTransitions(out.Transitions)

	if len(out.Transitions) > 0 {
		s.publish(ctx, domain.TransitionBatch{
			EventID:     out.EventID,
			UserID:      who.UserID,
			Kind:        ev.Kind(),
			Transitions: out.Transitions,
			At:          s.dispatcher.Now().UTC(),
		})
	}
	return out, nil
}

func recordTransitions(ts []domain.Transition) {
	for _, t := range ts {
		switch t.Type {
		case domain.TransitionLevelUp:
			metrics.LevelUps.Inc()
		case domain.TransitionBadgeUnlocked:
			metrics.BadgesUnlocked.WithLabelValues(t.Badge.ID).Inc()
		case domain.TransitionStreakMilestone:
			metrics.StreakMilestones.WithLabelValues(strconv.Itoa(t.Streak)).Inc()
		}
	}
}

func (s *Service) publish(ctx context.Context, batch domain.TransitionBatch) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, batch); err != nil {
			s.log.Warn("publish transitions failed",
				zap.String("user", batch.UserID), zap.String("event", batch.EventID), zap.Error(err))
		}
	}
}

// flushUser writes the user's latest stats with a version check. On a
// conflict it reloads, rebases the in-memory copy onto what the store now
// holds, and tries again.
func (s *Service) flushUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	e, ok := s.users[userID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	for round := 0; round < maxConflictRounds; round++ {
		if err := e.lock(ctx); err != nil {
			return err
		}
		if !e.loaded || e.seq == e.savedSeq {
			e.unlock()
			return nil
		}
		snap := e.stats.Clone()
		version, seq := e.version, e.seq
		e.unlock()

		newVersion, err := s.store.Save(ctx, userID, snap, version)
		if err == nil {
			metrics.PersistWrites.WithLabelValues("ok").Inc()
			if err := e.lock(ctx); err != nil {
				return err
			}
			e.base = snap
			e.version = newVersion
			if seq > e.savedSeq {
				e.savedSeq = seq
			}
			dirty := e.seq != e.savedSeq
			e.unlock()
			if dirty {
				s.writer.MarkDirty(userID)
			}
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			metrics.PersistWrites.WithLabelValues("error").Inc()
			return fmt.Errorf("save stats for %s: %w", userID, err)
		}

		metrics.PersistWrites.WithLabelValues("conflict").Inc()
		rec, err := s.loadRecord(ctx, userID)
		if err != nil {
			return fmt.Errorf("reload stats for %s: %w", userID, err)
		}
		if err := e.lock(ctx); err != nil {
			return err
		}
		e.stats = Rebase(e.base, e.stats, rec.Stats)
		e.base = rec.Stats
		e.version = rec.Version
		e.seq++
		e.unlock()
		s.log.Debug("rebased stats after concurrent write",
			zap.String("user", userID), zap.Int64("version", rec.Version))
	}
	return fmt.Errorf("save stats for %s: %w", userID, domain.ErrVersionConflict)
}

// ─── Per-Event Operations ───────────────────────────────────────────────────

// TaskCompleted rewards a finished task.
func (s *Service) TaskCompleted(ctx context.Context, who domain.Identity, highestPriority bool) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.TaskCompleted{HighestPriority: highestPriority})
}

// HabitCompleted rewards a checked-off habit; allDone adds the once-a-day
// perfect-day bonus.
func (s *Service) HabitCompleted(ctx context.Context, who domain.Identity, allDone bool) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.HabitCompleted{AllHabitsDone: allDone})
}

// AllHabitsCompleted pays the perfect-day bonus if today's is still unpaid.
func (s *Service) AllHabitsCompleted(ctx context.Context, who domain.Identity) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.AllHabitsCompleted{})
}

// GoalAchieved rewards a reached goal.
func (s *Service) GoalAchieved(ctx context.Context, who domain.Identity) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.GoalAchieved{})
}

// JournalWritten rewards a journal entry.
func (s *Service) JournalWritten(ctx context.Context, who domain.Identity) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.JournalWritten{})
}

// FocusCompleted rewards a completed focus session.
func (s *Service) FocusCompleted(ctx context.Context, who domain.Identity) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.FocusCompleted{})
}

// TransactionLogged rewards a logged transaction. It does not touch the streak.
func (s *Service) TransactionLogged(ctx context.Context, who domain.Identity) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.TransactionLogged{})
}

// StudyCompleted rewards a study session.
func (s *Service) StudyCompleted(ctx context.Context, who domain.Identity) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.StudyCompleted{})
}

// RunningLogged rewards a run and checks the running badges against the
// caller's lifetime totals.
func (s *Service) RunningLogged(ctx context.Context, who domain.Identity, totalSessions int, totalDistanceKM float64) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.RunningLogged{TotalSessions: totalSessions, TotalDistanceKM: totalDistanceKM})
}

// WorkoutLogged rewards a workout and checks the workout badges.
func (s *Service) WorkoutLogged(ctx context.Context, who domain.Identity, totalSessions int) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.WorkoutLogged{TotalSessions: totalSessions})
}

// BodyMeasurementLogged rewards a measurement. It does not touch the streak.
func (s *Service) BodyMeasurementLogged(ctx context.Context, who domain.Identity) (Outcome, error) {
	return s.Dispatch(ctx, who, domain.BodyMeasurementLogged{})
}
