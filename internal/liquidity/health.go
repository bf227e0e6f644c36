package liquidity

import (
	"sync"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

type venueState struct {
	failures      int
	cooldownUntil time.Time
	lastErr       string
	lastSuccess   time.Time
}

// healthTracker parks a venue for a cooldown after threshold consecutive
// failures. Once the cooldown lapses the venue is probed again; a failed
// probe parks it for another cooldown.
type healthTracker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	venues    map[string]*venueState
}

func newHealthTracker(threshold int, cooldown time.Duration) *healthTracker {
	if threshold <= 0 {
		threshold = 3
	}
	return &healthTracker{
		threshold: threshold,
		cooldown:  cooldown,
		venues:    make(map[string]*venueState),
	}
}

func (h *healthTracker) available(venue string, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.venues[venue]
	if !ok {
		return true
	}
	return !now.Before(st.cooldownUntil)
}

func (h *healthTracker) recordSuccess(venue string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(venue)
	st.failures = 0
	st.cooldownUntil = time.Time{}
	st.lastErr = ""
	st.lastSuccess = now
}

// recordFailure returns true when this failure parks the venue.
func (h *healthTracker) recordFailure(venue string, err error, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(venue)
	st.failures++
	if err != nil {
		st.lastErr = err.Error()
	}
	if st.failures >= h.threshold {
		st.cooldownUntil = now.Add(h.cooldown)
		return true
	}
	return false
}

func (h *healthTracker) state(venue string) *venueState {
	st, ok := h.venues[venue]
	if !ok {
		st = &venueState{}
		h.venues[venue] = st
	}
	return st
}

func (h *healthTracker) snapshot(names []string, now time.Time) []domain.VenueHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.VenueHealth, 0, len(names))
	for _, name := range names {
		vh := domain.VenueHealth{Venue: name, Healthy: true}
		if st, ok := h.venues[name]; ok {
			vh.ConsecutiveFailures = st.failures
			vh.LastError = st.lastErr
			vh.LastSuccess = st.lastSuccess
			if now.Before(st.cooldownUntil) {
				vh.CooldownUntil = st.cooldownUntil
				vh.Healthy = false
			}
		}
		out = append(out, vh)
	}
	return out
}
