// Package metrics holds the Prometheus collectors for the router.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of router collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	VenueFetchDuration *prometheus.HistogramVec
	VenueFetches       *prometheus.CounterVec
	VenueCooldowns     *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec

	RoutesComputed  *prometheus.CounterVec
	PlansBuilt      prometheus.Counter
	PlanEvaluations *prometheus.CounterVec

	OracleReads        *prometheus.CounterVec
	OracleDeviation    prometheus.Histogram
	BreakerState       prometheus.Gauge
	BreakerTransitions *prometheus.CounterVec

	Bundles        *prometheus.CounterVec
	SwapAttempts   *prometheus.CounterVec
	SwapResults    *prometheus.CounterVec
	SwapDuration   prometheus.Histogram
	TWAPChunks     *prometheus.CounterVec
	ActiveMonitors prometheus.Gauge
}

// New creates the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		VenueFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swaprouter_venue_fetch_duration_seconds",
				Help:    "Latency of venue liquidity fetches",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"venue"},
		),
		VenueFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_venue_fetches_total",
				Help: "Venue liquidity fetches by outcome",
			},
			[]string{"venue", "outcome"},
		),
		VenueCooldowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_venue_cooldowns_total",
				Help: "Times a venue was parked after consecutive failures",
			},
			[]string{"venue"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_liquidity_cache_lookups_total",
				Help: "Liquidity cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		RoutesComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_routes_computed_total",
				Help: "Route candidates produced by profile",
			},
			[]string{"profile"},
		),
		PlansBuilt: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swaprouter_plans_built_total",
				Help: "Atomic swap plans built",
			},
		),
		PlanEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_plan_evaluations_total",
				Help: "Plan evaluations by rebalance reason",
			},
			[]string{"reason"},
		),
		OracleReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_oracle_reads_total",
				Help: "Oracle reads by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		OracleDeviation: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swaprouter_oracle_deviation_ratio",
				Help:    "Route price deviation from the oracle cross price",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1},
			},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swaprouter_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),
		Bundles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_bundles_total",
				Help: "Protected bundle submissions by status",
			},
			[]string{"status"},
		),
		SwapAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_swap_attempts_total",
				Help: "Plan execution attempts by outcome",
			},
			[]string{"outcome"},
		),
		SwapResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_swaps_total",
				Help: "Swap requests by terminal status",
			},
			[]string{"status"},
		),
		SwapDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swaprouter_swap_duration_seconds",
				Help:    "End-to-end swap execution time",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
		),
		TWAPChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swaprouter_twap_chunks_total",
				Help: "TWAP chunks by outcome",
			},
			[]string{"outcome"},
		),
		ActiveMonitors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swaprouter_active_plan_monitors",
				Help: "Plan monitors currently running",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.VenueFetchDuration,
		m.VenueFetches,
		m.VenueCooldowns,
		m.CacheLookups,
		m.RoutesComputed,
		m.PlansBuilt,
		m.PlanEvaluations,
		m.OracleReads,
		m.OracleDeviation,
		m.BreakerState,
		m.BreakerTransitions,
		m.Bundles,
		m.SwapAttempts,
		m.SwapResults,
		m.SwapDuration,
		m.TWAPChunks,
		m.ActiveMonitors,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// ObserveVenueFetch records one venue call.
func (m *Metrics) ObserveVenueFetch(venue, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.VenueFetchDuration.WithLabelValues(venue).Observe(d.Seconds())
	m.VenueFetches.WithLabelValues(venue, outcome).Inc()
}

// VenueParked counts a venue cooldown.
func (m *Metrics) VenueParked(venue string) {
	if m == nil {
		return
	}
	m.VenueCooldowns.WithLabelValues(venue).Inc()
}

// CacheLookup counts a cache hit or miss on tier.
func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// RouteComputed counts a route by profile.
func (m *Metrics) RouteComputed(profile string) {
	if m == nil {
		return
	}
	m.RoutesComputed.WithLabelValues(profile).Inc()
}

// PlanBuilt counts a built plan.
func (m *Metrics) PlanBuilt() {
	if m == nil {
		return
	}
	m.PlansBuilt.Inc()
}

// PlanEvaluated counts an evaluation; an empty reason means no rebalance.
func (m *Metrics) PlanEvaluated(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.PlanEvaluations.WithLabelValues(reason).Inc()
}

// OracleRead counts one oracle read.
func (m *Metrics) OracleRead(source, outcome string) {
	if m == nil {
		return
	}
	m.OracleReads.WithLabelValues(source, outcome).Inc()
}

// ObserveDeviation records a verification deviation.
func (m *Metrics) ObserveDeviation(dev float64) {
	if m == nil {
		return
	}
	m.OracleDeviation.Observe(dev)
}

// BreakerTransition records a state change. States are CLOSED, HALF_OPEN
// and OPEN.
func (m *Metrics) BreakerTransition(from, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(from, to).Inc()
	switch to {
	case "OPEN":
		m.BreakerState.Set(2)
	case "HALF_OPEN":
		m.BreakerState.Set(1)
	default:
		m.BreakerState.Set(0)
	}
}

// BundleSubmitted counts a bundle by terminal status.
func (m *Metrics) BundleSubmitted(status string) {
	if m == nil {
		return
	}
	m.Bundles.WithLabelValues(status).Inc()
}

// SwapAttempt counts one plan attempt.
func (m *Metrics) SwapAttempt(outcome string) {
	if m == nil {
		return
	}
	m.SwapAttempts.WithLabelValues(outcome).Inc()
}

// SwapFinished records a terminal swap outcome.
func (m *Metrics) SwapFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SwapResults.WithLabelValues(status).Inc()
	m.SwapDuration.Observe(d.Seconds())
}

// TWAPChunk counts one TWAP slice.
func (m *Metrics) TWAPChunk(outcome string) {
	if m == nil {
		return
	}
	m.TWAPChunks.WithLabelValues(outcome).Inc()
}

// MonitorStarted and MonitorStopped track running plan monitors.
func (m *Metrics) MonitorStarted() {
	if m == nil {
		return
	}
	m.ActiveMonitors.Inc()
}

func (m *Metrics) MonitorStopped() {
	if m == nil {
		return
	}
	m.ActiveMonitors.Dec()
}
