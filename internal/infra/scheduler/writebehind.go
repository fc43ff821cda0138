package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/metrics"
)

// ─── Write-Behind Queue ─────────────────────────────────────────────────────
// Keys are marked dirty by the hot path and written out later by a pool of
// workers. A key is flushed by at most one worker at a time. Failed keys
// move to the RetryQueue and come back after their backoff.

// FlushFunc persists the current state behind key.
type FlushFunc func(ctx context.Context, key string) error

// WriteBehindConfig configures the worker pool.
type WriteBehindConfig struct {
	Workers       int
	FlushInterval time.Duration // How often due retries are re-queued
	Retry         RetryConfig
}

// DefaultWriteBehindConfig returns production defaults.
func DefaultWriteBehindConfig() WriteBehindConfig {
	return WriteBehindConfig{
		Workers:       2,
		FlushInterval: time.Second,
		Retry:         DefaultRetryConfig(),
	}
}

// WriteBehind schedules asynchronous flushes of dirty keys.
type WriteBehind struct {
	cfg     WriteBehindConfig
	flush   FlushFunc
	retries *RetryQueue
	log     *zap.Logger

	mu       sync.Mutex
	queue    []string
	queued   map[string]bool
	inflight map[string]bool
	rerun    map[string]bool
	attempts map[string]int
	wake     chan struct{}
}

// NewWriteBehind creates a write-behind queue that calls flush per key.
func NewWriteBehind(cfg WriteBehindConfig, flush FlushFunc, log *zap.Logger) *WriteBehind {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WriteBehind{
		cfg:      cfg,
		flush:    flush,
		retries:  NewRetryQueue(cfg.Retry),
		log:      log,
		queued:   make(map[string]bool),
		inflight: make(map[string]bool),
		rerun:    make(map[string]bool),
		attempts: make(map[string]int),
		wake:     make(chan struct{}, 1),
	}
}

// MarkDirty schedules key for a flush. Keys already waiting on a retry
// keep their backoff; keys being flushed right now are flushed again once
// the current attempt ends.
func (w *WriteBehind) MarkDirty(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.inflight[key]:
		w.rerun[key] = true
	case w.queued[key], w.attempts[key] > 0:
	default:
		w.enqueueLocked(key)
	}
	w.updateGaugeLocked()
}

func (w *WriteBehind) enqueueLocked(key string) {
	if w.queued[key] {
		return
	}
	w.queued[key] = true
	w.queue = append(w.queue, key)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of keys that still have unsaved state.
func (w *WriteBehind) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pendingLocked()
}

func (w *WriteBehind) pendingLocked() int {
	seen := make(map[string]bool, len(w.queued)+len(w.inflight)+len(w.attempts))
	for k := range w.queued {
		seen[k] = true
	}
	for k := range w.inflight {
		seen[k] = true
	}
	for k := range w.attempts {
		seen[k] = true
	}
	return len(seen)
}

func (w *WriteBehind) updateGaugeLocked() {
	metrics.PersistPending.Set(float64(w.pendingLocked()))
}

// RetryStats exposes the retry queue statistics.
func (w *WriteBehind) RetryStats() RetryStats { return w.retries.RetryStats() }

// Run starts the workers and the retry ticker. It blocks until ctx is done.
func (w *WriteBehind) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			w.worker(ctx)
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				w.requeueDue()
			}
		}
	})
	return g.Wait()
}

func (w *WriteBehind) requeueDue() {
	ready := w.retries.DrainReady()
	if len(ready) == 0 {
		return
	}
	w.mu.Lock()
	for _, entry := range ready {
		w.enqueueLocked(entry.Key)
	}
	w.mu.Unlock()
}

func (w *WriteBehind) worker(ctx context.Context) {
	for {
		key, ok := w.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}
		w.process(ctx, key)
		if ctx.Err() != nil {
			return
		}
	}
}

// next pops a queued key that no other worker holds.
func (w *WriteBehind) next() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, key := range w.queue {
		if w.inflight[key] {
			continue
		}
		w.queue = append(w.queue[:i], w.queue[i+1:]...)
		delete(w.queued, key)
		w.inflight[key] = true
		if len(w.queue) > 0 {
			select {
			case w.wake <- struct{}{}:
			default:
			}
		}
		return key, true
	}
	return "", false
}

func (w *WriteBehind) process(ctx context.Context, key string) error {
	err := w.flush(ctx, key)

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, key)
	rerun := w.rerun[key]
	delete(w.rerun, key)
	if w.queued[key] {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}

	if err != nil {
		w.attempts[key]++
		attempt := w.attempts[key]
		if w.retries.ScheduleRetry(key, attempt, err.Error()) {
			w.log.Warn("flush failed, will retry",
				zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
		} else {
			metrics.PersistExhausted.Inc()
			w.log.Error("flush retries exhausted, parked at max backoff",
				zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
		}
		w.updateGaugeLocked()
		return err
	}

	delete(w.attempts, key)
	w.retries.Cancel(key)
	if rerun {
		w.enqueueLocked(key)
	}
	w.updateGaugeLocked()
	return nil
}

// Flush synchronously writes every queued or retrying key, ignoring
// backoff. Keys held by a running worker are left to that worker.
func (w *WriteBehind) Flush(ctx context.Context) error {
	var errs []error
	for round := 0; round < 3; round++ {
		n, err := w.flushOnce(ctx)
		if err != nil {
			errs = append(errs, err)
			break
		}
		if n == 0 {
			break
		}
	}
	return errors.Join(errs...)
}

func (w *WriteBehind) flushOnce(ctx context.Context) (int, error) {
	w.mu.Lock()
	for _, entry := range w.retries.DrainAll() {
		w.enqueueLocked(entry.Key)
	}
	keys := make([]string, 0, len(w.queue))
	rest := w.queue[:0]
	for _, key := range w.queue {
		if w.inflight[key] {
			rest = append(rest, key)
			continue
		}
		delete(w.queued, key)
		w.inflight[key] = true
		keys = append(keys, key)
	}
	w.queue = rest
	w.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			w.mu.Lock()
			delete(w.inflight, key)
			w.enqueueLocked(key)
			w.mu.Unlock()
			errs = append(errs, err)
			continue
		}
		if err := w.process(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return len(keys), errors.Join(errs...)
}
