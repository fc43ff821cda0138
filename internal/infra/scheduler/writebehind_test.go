package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ─── Write-Behind Tests ─────────────────────────────────────────────────────

type flushRecorder struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]int // remaining failures per key
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{calls: map[string]int{}, fail: map[string]int{}}
}

func (r *flushRecorder) flush(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[key]++
	if r.fail[key] > 0 {
		r.fail[key]--
		return errors.New("store unavailable")
	}
	return nil
}

func (r *flushRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[key]
}

func fastConfig() WriteBehindConfig {
	return WriteBehindConfig{
		Workers:       2,
		FlushInterval: 2 * time.Millisecond,
		Retry:         RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func TestWriteBehind_FlushWritesDirtyKeysOnce(t *testing.T) {
	rec := newFlushRecorder()
	wb := NewWriteBehind(fastConfig(), rec.flush, nil)

	wb.MarkDirty("alice")
	wb.MarkDirty("alice")
	wb.MarkDirty("bob")
	assert.Equal(t, 2, wb.Pending())

	require.NoError(t, wb.Flush(context.Background()))
	assert.Equal(t, 0, wb.Pending())
	assert.Equal(t, 1, rec.count("alice"))
	assert.Equal(t, 1, rec.count("bob"))

	require.NoError(t, wb.Flush(context.Background()))
	assert.Equal(t, 1, rec.count("alice"), "clean keys are not flushed again")
}

func TestWriteBehind_FailedKeyIsRetried(t *testing.T) {
	rec := newFlushRecorder()
	rec.fail["alice"] = 1
	wb := NewWriteBehind(fastConfig(), rec.flush, nil)

	wb.MarkDirty("alice")
	assert.Error(t, wb.Flush(context.Background()))
	assert.Equal(t, 1, wb.Pending(), "a failed key stays pending")
	assert.Equal(t, 1, wb.RetryStats().PendingRetries)

	// Marking it again keeps the backoff entry.
	wb.MarkDirty("alice")
	assert.Equal(t, 1, wb.RetryStats().PendingRetries)

	require.NoError(t, wb.Flush(context.Background()))
	assert.Equal(t, 0, wb.Pending())
	assert.Equal(t, 0, wb.RetryStats().PendingRetries)
	assert.Equal(t, 2, rec.count("alice"))
}

func TestWriteBehind_FlushHonorsContext(t *testing.T) {
	rec := newFlushRecorder()
	wb := NewWriteBehind(fastConfig(), rec.flush, nil)
	wb.MarkDirty("alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, wb.Flush(ctx), context.Canceled)
	assert.Equal(t, 0, rec.count("alice"))
	assert.Equal(t, 1, wb.Pending())
}

func TestWriteBehind_RunFlushesInBackground(t *testing.T) {
	rec := newFlushRecorder()
	rec.fail["bob"] = 2
	wb := NewWriteBehind(fastConfig(), rec.flush, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wb.Run(ctx) }()

	wb.MarkDirty("alice")
	wb.MarkDirty("bob")

	require.Eventually(t, func() bool { return wb.Pending() == 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, rec.count("alice"))
	assert.Equal(t, 3, rec.count("bob"), "two failures then a success")

	cancel()
	require.NoError(t, <-done)
}

func TestWriteBehind_MarkDuringFlushReruns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	flush := func(ctx context.Context, key string) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	}
	wb := NewWriteBehind(fastConfig(), flush, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wb.Run(ctx) }()

	wb.MarkDirty("alice")
	<-started
	wb.MarkDirty("alice") // arrives while the first flush is running
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2 && wb.Pending() == 0
	}, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
