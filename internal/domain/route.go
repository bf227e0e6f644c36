package domain

import "time"

// StrategyProfile is the execution shape recommended for a route.
type StrategyProfile string

const (
	ProfileSingleVenue  StrategyProfile = "single-venue"
	ProfileSplit        StrategyProfile = "split"
	ProfileTWAPAssisted StrategyProfile = "twap-assisted"
)

// MEVRisk is a qualitative exposure score.
type MEVRisk string

const (
	MEVRiskLow    MEVRisk = "low"
	MEVRiskMedium MEVRisk = "medium"
	MEVRiskHigh   MEVRisk = "high"
)

func (r MEVRisk) level() int {
	switch r {
	case MEVRiskHigh:
		return 2
	case MEVRiskMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r is as severe as other.
func (r MEVRisk) AtLeast(other MEVRisk) bool { return r.level() >= other.level() }

// RouteSplit is the unit of allocation: one venue's share of a route.
type RouteSplit struct {
	Venue          string           `json:"venue"`
	Kind           VenueKind        `json:"kind"`
	InputAmount    float64          `json:"input_amount"`
	ExpectedOutput float64          `json:"expected_output"`
	Fee            float64          `json:"fee"`
	Source         *LiquiditySource `json:"-"`
}

// RoutingStrategyMetadata annotates a route with its execution profile.
type RoutingStrategyMetadata struct {
	Profile             StrategyProfile `json:"profile"`
	RecommendedSlices   int             `json:"recommended_slices,omitempty"`
	RecommendedInterval time.Duration   `json:"recommended_interval,omitempty"`
	FallbackCount       int             `json:"fallback_count"`
}

// RouteCandidate is one allocation of the full input across venues.
type RouteCandidate struct {
	Splits         []RouteSplit             `json:"splits"`
	InputAmount    float64                  `json:"input_amount"`
	ExpectedOutput float64                  `json:"expected_output"`
	TotalCost      float64                  `json:"total_cost"`
	FeeTotal       float64                  `json:"fee_total"`
	SlippagePct    float64                  `json:"slippage_pct"`
	FootprintRatio float64                  `json:"footprint_ratio"`
	MEVRisk        MEVRisk                  `json:"mev_risk"`
	Strategy       *RoutingStrategyMetadata `json:"strategy,omitempty"`
}

// ImpliedPrice is output units per input unit.
func (c RouteCandidate) ImpliedPrice() float64 {
	if c.InputAmount <= 0 {
		return 0
	}
	return c.ExpectedOutput / c.InputAmount
}

// AMMShare is the fraction of input routed through AMM venues.
func (c RouteCandidate) AMMShare() float64 {
	if c.InputAmount <= 0 {
		return 0
	}
	var amm float64
	for _, s := range c.Splits {
		if s.Kind == VenueAMM {
			amm += s.InputAmount
		}
	}
	return amm / c.InputAmount
}

// Venues lists the venues touched by the route, in split order.
func (c RouteCandidate) Venues() []string {
	out := make([]string, len(c.Splits))
	for i, s := range c.Splits {
		out[i] = s.Venue
	}
	return out
}
