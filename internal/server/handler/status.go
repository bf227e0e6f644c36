package handler

import (
	"net/http"

	"github.com/alanyoungcy/swaprouter/internal/breaker"
	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// BreakerView exposes the executor's circuit breaker.
type BreakerView interface {
	Snapshot() breaker.Snapshot
}

// VenueHealthView exposes per-venue health from the aggregator.
type VenueHealthView interface {
	VenueHealth() []domain.VenueHealth
}

// StatusHandler serves breaker and venue status.
type StatusHandler struct {
	breaker BreakerView
	venues  VenueHealthView
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(b BreakerView, venues VenueHealthView) *StatusHandler {
	return &StatusHandler{breaker: b, venues: venues}
}

// GetBreaker returns the breaker state and counters.
// GET /api/breaker
func (h *StatusHandler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.breaker.Snapshot())
}

type venueHealthResponse struct {
	Venues  []domain.VenueHealth `json:"venues"`
	Healthy int                  `json:"healthy"`
	Total   int                  `json:"total"`
}

// GetVenueHealth lists every registered venue with its failure counters.
// GET /api/venues/health
func (h *StatusHandler) GetVenueHealth(w http.ResponseWriter, r *http.Request) {
	venues := h.venues.VenueHealth()
	if venues == nil {
		venues = []domain.VenueHealth{}
	}
	healthy := 0
	for _, v := range venues {
		if v.Healthy {
			healthy++
		}
	}
	writeJSON(w, http.StatusOK, venueHealthResponse{Venues: venues, Healthy: healthy, Total: len(venues)})
}
