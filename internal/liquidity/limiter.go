package liquidity

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// venueLimiter keeps one token bucket per venue.
type venueLimiter struct {
	mu        sync.RWMutex
	limiters  map[string]*rate.Limiter
	rps       float64
	burst     int
	overrides map[string]RateLimit
}

// RateLimit is a per-venue request budget.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

func newVenueLimiter(rps float64, burst int, overrides map[string]RateLimit) *venueLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &venueLimiter{
		limiters:  make(map[string]*rate.Limiter),
		rps:       rps,
		burst:     burst,
		overrides: overrides,
	}
}

func (l *venueLimiter) get(venue string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[venue]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[venue]; ok {
		return lim
	}
	rps, burst := l.rps, l.burst
	if o, ok := l.overrides[venue]; ok && o.PerSecond > 0 {
		rps = o.PerSecond
		if o.Burst > 0 {
			burst = o.Burst
		}
	}
	if rps <= 0 {
		lim = rate.NewLimiter(rate.Inf, burst)
	} else {
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	l.limiters[venue] = lim
	return lim
}

// wait blocks until venue may be called. It fails fast when the token would
// not be available before ctx's deadline.
func (l *venueLimiter) wait(ctx context.Context, venue string) error {
	return l.get(venue).Wait(ctx)
}
