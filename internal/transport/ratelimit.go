package transport

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// originLimiters paces requests per origin with a token bucket,
// mirroring the identity-keyed limiter map pattern the teacher used
// for per-API-key rate limiting. rps of 0 disables pacing entirely.
type originLimiters struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      float64
	burst    int
}

func newOriginLimiters(rps float64, burst int) *originLimiters {
	l := &originLimiters{limiters: make(map[string]*limiterEntry), rps: rps, burst: burst}
	if rps > 0 {
		go l.cleanupLoop()
	}
	return l
}

func (l *originLimiters) wait(ctx context.Context, target string) error {
	if l.rps <= 0 {
		return nil
	}
	origin := originOf(target)
	limiter := l.get(origin)
	return limiter.Wait(ctx)
}

func (l *originLimiters) get(origin string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.limiters[origin]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.limiters[origin] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (l *originLimiters) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-time.Hour)
		l.mu.Lock()
		for origin, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, origin)
			}
		}
		l.mu.Unlock()
	}
}
