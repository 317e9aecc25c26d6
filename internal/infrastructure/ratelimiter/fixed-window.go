package ratelimiter

import (
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is keyed by caller identity: a client IP for HTTP routes, a
// connection id for relay frames.
type Limiter interface {
	Allow(key string) (bool, time.Duration)
	Forget(key string)
}

type FixedWindowRateLimiter struct {
	counts      sync.Map // string -> *window
	limit       int64
	size        time.Duration
	now         func() time.Time
	cleanupTick *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

type window struct {
	count   atomic.Int64
	resetAt atomic.Int64 // unix nanos
	mu      sync.Mutex   // only for reset
}

func NewFixedWindowRateLimiter(limit int, size time.Duration) *FixedWindowRateLimiter {
	rl := &FixedWindowRateLimiter{
		limit:       int64(limit),
		size:        size,
		now:         time.Now,
		cleanupTick: time.NewTicker(size),
		done:        make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// Allow counts one hit for key. When the window is exhausted it reports how
// long until the window resets.
func (rl *FixedWindowRateLimiter) Allow(key string) (bool, time.Duration) {
	if rl.limit <= 0 {
		return true, 0
	}

	now := rl.now()
	val, _ := rl.counts.LoadOrStore(key, &window{})
	w := val.(*window)

	if reset := w.resetAt.Load(); reset != 0 && now.UnixNano() < reset {
		return rl.hit(w, reset, now)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Another goroutine may have reset the window while we waited.
	if reset := w.resetAt.Load(); reset != 0 && now.UnixNano() < reset {
		return rl.hit(w, reset, now)
	}

	w.count.Store(1)
	w.resetAt.Store(now.Add(rl.size).UnixNano())
	return true, 0
}

func (rl *FixedWindowRateLimiter) hit(w *window, reset int64, now time.Time) (bool, time.Duration) {
	if w.count.Add(1) > rl.limit {
		w.count.Add(-1)
		return false, time.Duration(reset - now.UnixNano())
	}
	return true, 0
}

func (rl *FixedWindowRateLimiter) Forget(key string) {
	rl.counts.Delete(key)
}

func (rl *FixedWindowRateLimiter) startCleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.cleanup()
		case <-rl.done:
			return
		}
	}
}

func (rl *FixedWindowRateLimiter) cleanup() {
	now := rl.now().UnixNano()
	rl.counts.Range(func(key, value any) bool {
		if reset := value.(*window).resetAt.Load(); reset != 0 && now > reset {
			rl.counts.Delete(key)
		}
		return true
	})
}

func (rl *FixedWindowRateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.cleanupTick.Stop()
	})
}
