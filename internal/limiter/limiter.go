// Package limiter caps how many account pipelines run at once through one proxy.
package limiter

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DirectKey groups accounts that connect without a proxy.
const DirectKey = "direct"

// Recorder receives slot metrics.
type Recorder interface {
	RecordSlotAcquire()
	RecordSlotRelease()
	RecordSlotWait(result string, waited time.Duration)
}

// Limiter manages per-proxy concurrency limits. A limit of 0 disables it.
type Limiter struct {
	limit        atomic.Int64
	recorder     Recorder
	current      map[string]*int64 // key -> atomic counter
	mu           sync.RWMutex
	pollInterval time.Duration
}

// New creates a new concurrency limiter.
func New(limit int, recorder Recorder) *Limiter {
	l := &Limiter{
		recorder:     recorder,
		current:      make(map[string]*int64),
		pollInterval: 10 * time.Millisecond,
	}
	l.SetLimit(limit)
	return l
}

// Key normalizes an account's proxy line into a limiter key.
func Key(proxy string) string {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		return DirectKey
	}
	return proxy
}

// SetLimit updates the limit (e.g., from hot reload). Slots already held are kept.
func (l *Limiter) SetLimit(limit int) {
	if limit < 0 {
		limit = 0
	}
	l.limit.Store(int64(limit))
}

// Limit returns the current limit.
func (l *Limiter) Limit() int {
	return int(l.limit.Load())
}

func (l *Limiter) counter(key string) *int64 {
	l.mu.RLock()
	counterPtr, ok := l.current[key]
	l.mu.RUnlock()
	if ok {
		return counterPtr
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if counterPtr, ok = l.current[key]; !ok {
		counterPtr = new(int64)
		l.current[key] = counterPtr
	}
	return counterPtr
}

// Acquire attempts to take a slot for key.
// Returns true if acquired, false if limit reached.
func (l *Limiter) Acquire(key string) bool {
	counterPtr := l.counter(key)
	for {
		limit := l.limit.Load()
		current := atomic.LoadInt64(counterPtr)
		if limit > 0 && current >= limit {
			return false
		}
		if atomic.CompareAndSwapInt64(counterPtr, current, current+1) {
			if l.recorder != nil {
				l.recorder.RecordSlotAcquire()
			}
			return true
		}
	}
}

// Release gives a slot for key back.
func (l *Limiter) Release(key string) {
	l.mu.RLock()
	counterPtr, ok := l.current[key]
	l.mu.RUnlock()
	if !ok {
		return
	}

	for {
		current := atomic.LoadInt64(counterPtr)
		if current <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(counterPtr, current, current-1) {
			if l.recorder != nil {
				l.recorder.RecordSlotRelease()
			}
			return
		}
	}
}

// Current returns the number of slots held for key.
func (l *Limiter) Current(key string) int64 {
	l.mu.RLock()
	counterPtr, ok := l.current[key]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counterPtr)
}

// Wait blocks until a slot for key is free or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	start := time.Now()
	for {
		if l.Acquire(key) {
			l.recordWait("acquired", start)
			return nil
		}
		select {
		case <-ctx.Done():
			l.recordWait("cancelled", start)
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *Limiter) recordWait(result string, start time.Time) {
	if l.recorder != nil {
		l.recorder.RecordSlotWait(result, time.Since(start))
	}
}
