package progression_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/valdirmariano/altaper4mance-sub000/internal/app/progression"
	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/memory"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches []domain.TransitionBatch
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, b domain.TransitionBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, b)
	return p.err
}

func (p *recordingPublisher) Batches() []domain.TransitionBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.TransitionBatch(nil), p.batches...)
}

func newService(t *testing.T, store *memory.Store, opts ...progression.ServiceOption) *progression.Service {
	t.Helper()
	return progression.NewService(store, newDispatcher(t, newClock(noon)), nil, opts...)
}

func newClockedService(t *testing.T, store *memory.Store, clock *fakeClock, opts ...progression.ServiceOption) *progression.Service {
	t.Helper()
	return progression.NewService(store, newDispatcher(t, clock), nil, opts...)
}

func putStats(t *testing.T, store *memory.Store, userID string, stats domain.UserStats) int64 {
	t.Helper()
	data, err := domain.EncodeUserStats(stats)
	require.NoError(t, err)
	return store.Put(userID, data)
}

func storedStats(t *testing.T, store *memory.Store, userID string) (domain.UserStats, int64) {
	t.Helper()
	raw, version, ok := store.Raw(userID)
	require.True(t, ok, "no record for %s", userID)
	stats, err := domain.DecodeUserStats(raw)
	require.NoError(t, err)
	return stats, version
}

// ═══════════════════════════════════════════════════════════════════════════
// Dispatch
// ═══════════════════════════════════════════════════════════════════════════

func TestService_DispatchAndFlush(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store)

	out, err := svc.TaskCompleted(ctx, alice, false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), out.Stats.XP)
	assert.Equal(t, 1, out.Stats.Streak)
	assert.NotEmpty(t, out.EventID)
	assert.Equal(t, 1, svc.PendingWrites())

	_, _, ok := store.Raw(alice.UserID)
	assert.False(t, ok, "writes happen behind the call")

	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, 0, svc.PendingWrites())
	stored, version := storedStats(t, store, alice.UserID)
	assert.Equal(t, int64(10), stored.XP)
	assert.Equal(t, int64(1), version)
}

func TestService_PerEventOperations(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memory.New())

	steps := []struct {
		run func() (progression.Outcome, error)
		xp  int64
	}{
		{func() (progression.Outcome, error) { return svc.TaskCompleted(ctx, alice, true) }, 15},
		{func() (progression.Outcome, error) { return svc.HabitCompleted(ctx, alice, true) }, 55},
		{func() (progression.Outcome, error) { return svc.AllHabitsCompleted(ctx, alice) }, 0},
		{func() (progression.Outcome, error) { return svc.GoalAchieved(ctx, alice) }, 500},
		{func() (progression.Outcome, error) { return svc.JournalWritten(ctx, alice) }, 10},
		{func() (progression.Outcome, error) { return svc.FocusCompleted(ctx, alice) }, 20},
		{func() (progression.Outcome, error) { return svc.TransactionLogged(ctx, alice) }, 5},
		{func() (progression.Outcome, error) { return svc.StudyCompleted(ctx, alice) }, 15},
		{func() (progression.Outcome, error) { return svc.RunningLogged(ctx, alice, 1, 5) }, 20},
		{func() (progression.Outcome, error) { return svc.WorkoutLogged(ctx, alice, 1) }, 20},
		{func() (progression.Outcome, error) { return svc.BodyMeasurementLogged(ctx, alice) }, 5},
	}
	var total int64
	for i, step := range steps {
		out, err := step.run()
		require.NoError(t, err, "step %d", i)
		total += step.xp
		assert.Equal(t, total, out.Stats.XP, "step %d", i)
	}
}

func TestService_Anonymous(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pub := &recordingPublisher{}
	svc := newService(t, store, progression.WithPublisher(pub))

	out, err := svc.GoalAchieved(ctx, domain.Anonymous())
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Empty(t, out.Transitions)
	assert.Equal(t, 0, svc.PendingWrites())
	assert.Empty(t, pub.Batches())

	_, err = svc.Stats(ctx, domain.Anonymous())
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestService_StatsForNewUser(t *testing.T) {
	svc := newService(t, memory.New())

	stats, err := svc.Stats(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, domain.NewUserStats(), stats)
	assert.Equal(t, 0, svc.PendingWrites())
}

func TestService_PublishesTransitions(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("broker down")}
	svc := newService(t, memory.New(), progression.WithPublisher(pub), progression.WithPublisher(failing))

	_, err := svc.JournalWritten(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, pub.Batches(), "no transitions, nothing published")

	out, err := svc.GoalAchieved(ctx, alice)
	require.NoError(t, err, "publisher errors never fail dispatch")

	batches := pub.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, out.EventID, batches[0].EventID)
	assert.Equal(t, alice.UserID, batches[0].UserID)
	assert.Equal(t, domain.EventGoalAchieved, batches[0].Kind)
	assert.Equal(t, []domain.Transition{domain.LevelUp(4)}, batches[0].Transitions)
	assert.Len(t, failing.Batches(), 1)
}

// ═══════════════════════════════════════════════════════════════════════════
// Concurrency & Persistence
// ═══════════════════════════════════════════════════════════════════════════

func TestService_ConcurrentDispatchLosesNothing(t *testing.T) {
	store := memory.New()
	svc := newService(t, store, progression.WithWriteBehind(scheduler.WriteBehindConfig{
		Workers:       4,
		FlushInterval: 5 * time.Millisecond,
		Retry:         scheduler.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	bob := domain.User("bob")
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.JournalWritten(context.Background(), alice)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.TransactionLogged(context.Background(), bob)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return svc.PendingWrites() == 0 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, svc.Flush(context.Background()))

	a, err := svc.Stats(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, int64(n*10), a.XP)

	storedA, _ := storedStats(t, store, alice.UserID)
	storedB, _ := storedStats(t, store, bob.UserID)
	assert.Equal(t, int64(n*10), storedA.XP)
	assert.Equal(t, int64(n*5), storedB.XP)
}

func TestService_VersionConflictRebases(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store)

	_, err := svc.TaskCompleted(ctx, alice, false)
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))

	// Another instance writes a newer record behind our back.
	other := statsWith(1000, 1, domain.DatePtr(domain.DateOf(noon)), domain.Badge{ID: "goal_first", UnlockedAt: noon})
	data, err := domain.EncodeUserStats(other)
	require.NoError(t, err)
	require.Equal(t, int64(2), store.Put(alice.UserID, data))

	_, err = svc.JournalWritten(ctx, alice)
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))

	stored, version := storedStats(t, store, alice.UserID)
	assert.Equal(t, int64(3), version)
	assert.Equal(t, int64(1010), stored.XP, "remote 1000 plus the 10 earned locally since the last save")
	assert.True(t, stored.Badges.Has("goal_first"))

	mem, err := svc.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, stored.XP, mem.XP)
	assert.Equal(t, progression.LevelFor(1010).Level, mem.Level)
}

func TestService_PersistFailureKeepsMemoryAuthoritative(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	var calls atomic.Int32
	store.SaveHook = func(string) error {
		if calls.Add(1) <= 2 {
			return domain.ErrStoreUnavailable
		}
		return nil
	}
	svc := newService(t, store)

	out, err := svc.TaskCompleted(ctx, alice, false)
	require.NoError(t, err, "store failure never fails the event")
	assert.Equal(t, int64(10), out.Stats.XP)

	assert.ErrorIs(t, svc.Flush(ctx), domain.ErrStoreUnavailable)
	assert.Equal(t, 1, svc.PendingWrites())

	out, err = svc.JournalWritten(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(20), out.Stats.XP)

	assert.Error(t, svc.Flush(ctx))
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, 0, svc.PendingWrites())

	stored, _ := storedStats(t, store, alice.UserID)
	assert.Equal(t, int64(20), stored.XP)
}

func TestService_CorruptRecordStartsFresh(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put(alice.UserID, []byte("{not json"))
	svc := newService(t, store)

	stats, err := svc.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.NewUserStats(), stats)

	_, err = svc.TaskCompleted(ctx, alice, false)
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))

	stored, version := storedStats(t, store, alice.UserID)
	assert.Equal(t, int64(10), stored.XP)
	assert.Equal(t, int64(2), version, "the corrupt record is overwritten in place")
}

func TestService_LoadsExistingRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed := statsWith(95, 3, domain.DatePtr(domain.DateOf(noon).AddDays(-1)))
	seed.Level = 7 // stale level is re-derived from xp
	data, err := domain.EncodeUserStats(seed)
	require.NoError(t, err)
	store.Put(alice.UserID, data)
	svc := newService(t, store)

	out, err := svc.TaskCompleted(ctx, alice, true)
	require.NoError(t, err)
	assert.Equal(t, int64(110), out.Stats.XP)
	assert.Equal(t, 2, out.Stats.Level)
	assert.Equal(t, 4, out.Stats.Streak)
}

func TestService_SecondWriterStreakSurvivesConflict(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	today := domain.DateOf(noon)
	putStats(t, store, alice.UserID, statsWith(30, 3, domain.DatePtr(today.AddDays(-2))))
	svc := newService(t, store, progression.WithIdleTTL(0))

	_, err := svc.Stats(ctx, alice)
	require.NoError(t, err)

	// Another instance logs yesterday's activity after we cached the D-2 copy.
	require.Equal(t, int64(2), putStats(t, store, alice.UserID, statsWith(40, 4, domain.DatePtr(today.AddDays(-1)))))

	out, err := svc.JournalWritten(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Stats.Streak, "the stale copy sees a gap")

	require.NoError(t, svc.Flush(ctx))
	stored, version := storedStats(t, store, alice.UserID)
	assert.Equal(t, int64(3), version)
	assert.Equal(t, 5, stored.Streak)
	assert.Equal(t, today, *stored.LastActivityDate)
	assert.Equal(t, int64(50), stored.XP)

	mem, err := svc.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 5, mem.Streak)
}

// ═══════════════════════════════════════════════════════════════════════════
// Idle users
// ═══════════════════════════════════════════════════════════════════════════

func TestService_IdleEntryRereadsStore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newClock(noon)
	today := domain.DateOf(noon)
	putStats(t, store, alice.UserID, statsWith(30, 3, domain.DatePtr(today.AddDays(-2))))
	svc := newClockedService(t, store, clock, progression.WithIdleTTL(10*time.Minute))

	stats, err := svc.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(30), stats.XP)

	putStats(t, store, alice.UserID, statsWith(40, 4, domain.DatePtr(today.AddDays(-1))))

	clock.Add(time.Minute)
	stats, err = svc.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(30), stats.XP, "recently used copy is served from memory")

	clock.Add(10 * time.Minute)
	stats, err = svc.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(40), stats.XP)
	assert.Equal(t, 4, stats.Streak)

	out, err := svc.JournalWritten(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Stats.Streak)
	require.NoError(t, svc.Flush(ctx))
	_, version := storedStats(t, store, alice.UserID)
	assert.Equal(t, int64(3), version, "saved on the first try")
}

func TestService_IdleRefreshSkipsUnsavedChanges(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SaveHook = func(string) error { return domain.ErrStoreUnavailable }
	clock := newClock(noon)
	svc := newClockedService(t, store, clock, progression.WithIdleTTL(time.Minute))

	_, err := svc.GoalAchieved(ctx, alice)
	require.NoError(t, err)
	assert.Error(t, svc.Flush(ctx))

	clock.Add(time.Hour)
	stats, err := svc.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(500), stats.XP, "dirty copy is never replaced")
	assert.Equal(t, 0, svc.EvictIdle())
	assert.Equal(t, 1, svc.CachedUsers())
}

func TestService_EvictIdle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newClock(noon)
	bob := domain.User("bob")
	svc := newClockedService(t, store, clock, progression.WithIdleTTL(10*time.Minute))

	_, err := svc.TaskCompleted(ctx, alice, false)
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, 0, svc.EvictIdle(), "not idle yet")

	clock.Add(9 * time.Minute)
	store.SaveHook = func(string) error { return domain.ErrStoreUnavailable }
	_, err = svc.TaskCompleted(ctx, bob, false)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.CachedUsers())

	clock.Add(20 * time.Minute)
	assert.Equal(t, 1, svc.EvictIdle(), "only the flushed user goes")
	assert.Equal(t, 1, svc.CachedUsers())

	store.SaveHook = nil
	stats, err := svc.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.XP, "evicted user reloads from the store")
	assert.Equal(t, 2, svc.CachedUsers())

	require.NoError(t, svc.Flush(ctx))
	stored, _ := storedStats(t, store, bob.UserID)
	assert.Equal(t, int64(10), stored.XP)
}

func TestService_RunSweepsIdleUsers(t *testing.T) {
	store := memory.New()
	clock := newClock(noon)
	svc := newClockedService(t, store, clock, progression.WithIdleTTL(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	_, err := svc.TaskCompleted(ctx, alice, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return svc.PendingWrites() == 0 }, 5*time.Second, 10*time.Millisecond)
	clock.Add(time.Minute)
	require.Eventually(t, func() bool { return svc.CachedUsers() == 0 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	stored, _ := storedStats(t, store, alice.UserID)
	assert.Equal(t, int64(10), stored.XP)
}
