package router

import (
	"sync"
	"time"
)

// DefaultLimitPerMinute allows a heartbeat every 5 seconds with plenty of headroom
const DefaultLimitPerMinute = 120

// RateLimiter implements per-client rate limiting over fixed one-minute windows
// ARCHITECTURAL DISCOVERY: Per-client state tracking with periodic cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	now     func() time.Time
	clients map[string]*ClientLimit
}

// ClientLimit tracks rate limiting for a single client
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter creates a limiter allowing limit messages per client per minute
func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = DefaultLimitPerMinute
	}
	return &RateLimiter{
		limit:   limit,
		now:     time.Now,
		clients: make(map[string]*ClientLimit),
	}
}

// Allow reports whether clientID may send another message in the current window
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[clientID]
	if !exists {
		rl.clients[clientID] = &ClientLimit{messageCount: 1, windowStart: now}
		return true
	}

	// TECHNICAL DISCOVERY: window resets a full minute after it opened
	if now.Sub(limit.windowStart) >= time.Minute {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}

	limit.messageCount++
	return true
}

// Cleanup removes clients idle for more than five windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for clientID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, clientID)
		}
	}
}

// Tracked returns the number of clients with limiter state
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
