package ratelimiter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedWindowLimitsPerKey(t *testing.T) {
	rl := NewFixedWindowRateLimiter(3, time.Minute)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("conn-a")
		assert.True(t, ok, "hit %d", i)
	}

	ok, retry := rl.Allow("conn-a")
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))

	ok, _ = rl.Allow("conn-b")
	assert.True(t, ok, "keys are independent")
}

func TestFixedWindowResets(t *testing.T) {
	rl := NewFixedWindowRateLimiter(1, time.Minute)
	defer rl.Close()

	current := time.Now()
	rl.now = func() time.Time { return current }

	ok, _ := rl.Allow("k")
	assert.True(t, ok)
	ok, _ = rl.Allow("k")
	assert.False(t, ok)

	current = current.Add(time.Minute + time.Second)
	ok, _ = rl.Allow("k")
	assert.True(t, ok)
}

func TestFixedWindowForget(t *testing.T) {
	rl := NewFixedWindowRateLimiter(1, time.Minute)
	defer rl.Close()

	rl.Allow("k")
	rl.Forget("k")
	ok, _ := rl.Allow("k")
	assert.True(t, ok)
}

func TestFixedWindowConcurrentHits(t *testing.T) {
	rl := NewFixedWindowRateLimiter(50, time.Minute)
	defer rl.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := rl.Allow("shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
	rl.Close()
}
