// Package scheduler persists dirty state behind the hot path. Failed writes
// are re-queued with exponential backoff plus jitter and come back out of a
// min-heap ordered by their next attempt time.
package scheduler

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig configures the retry queue behavior.
type RetryConfig struct {
	MaxRetries int           // Attempts before a key is reported as exhausted
	BaseDelay  time.Duration // Initial backoff delay (doubles each retry)
	MaxDelay   time.Duration // Cap on backoff delay
	Jitter     float64       // Fraction of the delay randomized, 0..1
}

// DefaultRetryConfig returns production retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Jitter:     0.2,
	}
}

// Delay returns the backoff before the given attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay, before jitter.
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > c.MaxDelay {
			delay = c.MaxDelay
			break
		}
	}
	if delay > c.MaxDelay && c.MaxDelay > 0 {
		delay = c.MaxDelay
	}
	return delay
}

func (c RetryConfig) jittered(attempt int) time.Duration {
	delay := c.Delay(attempt)
	if c.Jitter <= 0 || delay <= 0 {
		return delay
	}
	spread := float64(delay) * c.Jitter
	return delay + time.Duration((rand.Float64()*2-1)*spread)
}

// RetryEntry tracks one key's retry state.
type RetryEntry struct {
	Key       string
	Attempt   int       // Failed attempts so far
	NextRetry time.Time // Earliest time this can be retried
	Error     string    // Last failure reason
}

// RetryQueue holds keys waiting for their next attempt. A key is queued at
// most once; rescheduling it replaces the earlier entry.
type RetryQueue struct {
	mu     sync.Mutex
	config RetryConfig
	heap   retryHeap
	pos    map[string]*retryItem
	now    func() time.Time

	// Stats
	totalRetries   int64
	totalExhausted int64
}

// NewRetryQueue creates an empty retry queue.
func NewRetryQueue(cfg RetryConfig) *RetryQueue {
	return &RetryQueue{
		config: cfg,
		pos:    make(map[string]*retryItem),
		now:    time.Now,
	}
}

// ScheduleRetry records a failed attempt for key and queues the next one.
// It returns false when the key has now used up MaxRetries; the entry is
// still queued, at MaxDelay, so the write is never dropped.
func (rq *RetryQueue) ScheduleRetry(key string, attempt int, reason string) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	exhausted := rq.config.MaxRetries > 0 && attempt >= rq.config.MaxRetries
	var delay time.Duration
	if exhausted {
		delay = rq.config.MaxDelay
		rq.totalExhausted++
	} else {
		delay = rq.config.jittered(attempt)
	}

	entry := RetryEntry{
		Key:       key,
		Attempt:   attempt,
		NextRetry: rq.now().Add(delay),
		Error:     reason,
	}
	if item, ok := rq.pos[key]; ok {
		item.entry = entry
		heap.Fix(&rq.heap, item.index)
	} else {
		item := &retryItem{entry: entry}
		heap.Push(&rq.heap, item)
		rq.pos[key] = item
	}
	rq.totalRetries++
	return !exhausted
}

// Cancel drops key from the queue, e.g. after a successful write.
func (rq *RetryQueue) Cancel(key string) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if item, ok := rq.pos[key]; ok {
		heap.Remove(&rq.heap, item.index)
		delete(rq.pos, key)
	}
}

// Attempt returns how many failed attempts key has accumulated.
func (rq *RetryQueue) Attempt(key string) int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if item, ok := rq.pos[key]; ok {
		return item.entry.Attempt
	}
	return 0
}

// DrainReady removes and returns every entry whose NextRetry has passed,
// earliest first.
func (rq *RetryQueue) DrainReady() []RetryEntry {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	now := rq.now()
	var ready []RetryEntry
	for rq.heap.Len() > 0 {
		next := rq.heap[0]
		if now.Before(next.entry.NextRetry) {
			break
		}
		heap.Pop(&rq.heap)
		delete(rq.pos, next.entry.Key)
		ready = append(ready, next.entry)
	}
	return ready
}

// DrainAll removes and returns every entry regardless of its due time.
func (rq *RetryQueue) DrainAll() []RetryEntry {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	out := make([]RetryEntry, 0, rq.heap.Len())
	for rq.heap.Len() > 0 {
		item := heap.Pop(&rq.heap).(*retryItem)
		delete(rq.pos, item.entry.Key)
		out = append(out, item.entry)
	}
	return out
}

// Len returns the number of keys pending retry.
func (rq *RetryQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.heap.Len()
}

// RetryStats holds retry queue statistics.
type RetryStats struct {
	PendingRetries int   `json:"pending_retries"`
	TotalRetries   int64 `json:"total_retries"`
	TotalExhausted int64 `json:"total_exhausted"`
}

// RetryStats returns current retry queue statistics.
func (rq *RetryQueue) RetryStats() RetryStats {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return RetryStats{
		PendingRetries: rq.heap.Len(),
		TotalRetries:   rq.totalRetries,
		TotalExhausted: rq.totalExhausted,
	}
}

// ─── heap.Interface ─────────────────────────────────────────────────────────

type retryItem struct {
	entry RetryEntry
	index int
}

type retryHeap []*retryItem

func (h retryHeap) Len() int { return len(h) }
func (h retryHeap) Less(i, j int) bool {
	return h[i].entry.NextRetry.Before(h[j].entry.NextRetry)
}
func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *retryHeap) Push(x any) {
	item := x.(*retryItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
