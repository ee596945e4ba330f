package ratelimiter

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// FixedWindowRateLimiter allows limit requests per key in each window. A
// key's window starts with its first request.
type FixedWindowRateLimiter struct {
	sync.Mutex
	clients map[string]*window //string:UserIP
	limit   int
	window  time.Duration
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowRateLimiter {
	rl := newFixedWindowLimiter(limit, window, time.Now)
	go rl.cleanup()
	return rl
}

func newFixedWindowLimiter(limit int, w time.Duration, now func() time.Time) *FixedWindowRateLimiter {
	return &FixedWindowRateLimiter{
		clients: make(map[string]*window),
		limit:   limit,
		window:  w,
		now:     now,
		done:    make(chan struct{}),
	}
}

// cleanup drops expired windows so idle clients do not accumulate.
func (rl *FixedWindowRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evict()
		case <-rl.done:
			return
		}
	}
}

func (rl *FixedWindowRateLimiter) evict() {
	rl.Lock()
	defer rl.Unlock()
	now := rl.now()
	for key, w := range rl.clients {
		if now.Sub(w.start) >= rl.window {
			delete(rl.clients, key)
		}
	}
}

// Allow reports whether key may make another request. When it may not, the
// returned duration is how long until its window resets.
func (rl *FixedWindowRateLimiter) Allow(key string) (bool, time.Duration) {
	rl.Lock()
	defer rl.Unlock()

	now := rl.now()
	w, ok := rl.clients[key]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.clients[key] = &window{start: now, count: 1}
		return true, 0
	}
	if w.count < rl.limit {
		w.count++
		return true, 0
	}
	return false, rl.window - now.Sub(w.start)
}

func (rl *FixedWindowRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}
