package protocol

import (
	"sync"
	"time"
)

// RateLimiter caps control messages per connection in fixed windows
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientWindow
	now     func() time.Time
}

type clientWindow struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit messages per window for each key
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// Allow records one message for key and reports whether it fits the window
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	w, exists := rl.clients[key]
	if !exists || now.Sub(w.windowStart) >= rl.window {
		rl.clients[key] = &clientWindow{messageCount: 1, windowStart: now}
		return true
	}

	if w.messageCount >= rl.limit {
		return false
	}

	w.messageCount++
	return true
}

// Cleanup removes keys idle for five windows
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, w := range rl.clients {
		if now.Sub(w.windowStart) > 5*rl.window {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of keys currently held
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
