// Package venue holds the registry of venue adapters keyed by venue name.
package venue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// Entry pairs an adapter with its static routing policy.
type Entry struct {
	Name   string
	Source domain.VenueLiquiditySource
	Policy domain.VenueConfig
}

// Registry maps venue names to adapters. It is populated once at startup and
// read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a venue. Registering the same name twice is an error.
func (r *Registry) Register(name string, src domain.VenueLiquiditySource, policy domain.VenueConfig) error {
	if name == "" {
		return fmt.Errorf("venue: register: empty name")
	}
	if src == nil {
		return fmt.Errorf("venue: register %s: nil source", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("venue: register %s: already registered", name)
	}
	r.entries[name] = Entry{Name: name, Source: src, Policy: policy}
	return nil
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Policy returns the routing policy for name, or the zero policy.
func (r *Registry) Policy(name string) domain.VenueConfig {
	e, _ := r.Get(name)
	return e.Policy
}

// Names returns all registered venue names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Select returns the entries named in allowed, or every entry when allowed is
// empty. Unknown names are ignored. The result is sorted by name.
func (r *Registry) Select(allowed []string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	if len(allowed) == 0 {
		out = make([]Entry, 0, len(r.entries))
		for _, e := range r.entries {
			out = append(out, e)
		}
	} else {
		seen := make(map[string]bool, len(allowed))
		for _, name := range allowed {
			if seen[name] {
				continue
			}
			seen[name] = true
			if e, ok := r.entries[name]; ok {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
