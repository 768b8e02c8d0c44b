package signal

import (
	"sync"
	"time"

	"github.com/dkeye/VoiceGuide/internal/core"
	"golang.org/x/time/rate"
)

// IntentLimiter throttles session intents per client.
type IntentLimiter struct {
	mu       sync.Mutex
	limiters map[core.ClientID]*rate.Limiter
	every    rate.Limit
	burst    int
}

func NewIntentLimiter(interval time.Duration, burst int) *IntentLimiter {
	if burst <= 0 {
		burst = 1
	}
	every := rate.Inf
	if interval > 0 {
		every = rate.Every(interval)
	}
	return &IntentLimiter{
		limiters: make(map[core.ClientID]*rate.Limiter),
		every:    every,
		burst:    burst,
	}
}

func (rl *IntentLimiter) Allow(id core.ClientID) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[id]
	if !ok {
		l = rate.NewLimiter(rl.every, rl.burst)
		rl.limiters[id] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

func (rl *IntentLimiter) Forget(id core.ClientID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, id)
}
