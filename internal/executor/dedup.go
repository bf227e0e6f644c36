package executor

import (
	"sync"
	"time"
)

// Dedup rejects a client request ID seen again within the TTL window. It is
// safe for concurrent use.
type Dedup struct {
	seen    map[string]time.Time // request ID -> first seen
	ttl     time.Duration
	nowFunc func() time.Time
	mu      sync.Mutex
}

// NewDedup creates a Dedup. A non-positive ttl disables deduplication.
func NewDedup(ttl time.Duration, now func() time.Time) *Dedup {
	if now == nil {
		now = time.Now
	}
	return &Dedup{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		nowFunc: now,
	}
}

// IsDuplicate reports whether id was seen within the TTL. An unseen or
// expired id is recorded and false is returned.
func (d *Dedup) IsDuplicate(id string) bool {
	if d.ttl <= 0 || id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFunc()
	if first, ok := d.seen[id]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Forget drops id so it may be retried, e.g. after admission was denied.
func (d *Dedup) Forget(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

// Cleanup removes expired entries. Call it periodically.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFunc()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len is the number of tracked IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
