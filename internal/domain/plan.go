package domain

import "time"

// PlanRequest is what a caller asks the router to plan.
type PlanRequest struct {
	InputAsset    string   `json:"input_asset"`
	OutputAsset   string   `json:"output_asset"`
	Amount        float64  `json:"amount"`
	SlippageBps   float64  `json:"slippage_bps,omitempty"`
	AllowedVenues []string `json:"allowed_venues,omitempty"`
	Wallet        string   `json:"wallet,omitempty"`
}

// PlanLeg is one venue's portion of a plan with its own output floor.
type PlanLeg struct {
	Venue          string    `json:"venue"`
	Kind           VenueKind `json:"kind"`
	InputAmount    float64   `json:"input_amount"`
	ExpectedOutput float64   `json:"expected_output"`
	MinOutput      float64   `json:"min_output"`
}

// SnapshotEntry is the per-venue baseline captured when a plan is built.
type SnapshotEntry struct {
	Venue          string    `json:"venue"`
	Kind           VenueKind `json:"kind"`
	EffectivePrice float64   `json:"effective_price"`
	Depth          float64   `json:"depth"`
	Timestamp      time.Time `json:"timestamp"`
}

// RebalanceThresholds bound how far the market may move before a plan is
// considered stale.
type RebalanceThresholds struct {
	MaxPriceDriftBps  float64       `json:"max_price_drift_bps"`
	MinLiquidityRatio float64       `json:"min_liquidity_ratio"`
	MaxStaleness      time.Duration `json:"max_staleness"`
}

// AtomicSwapPlan is the frozen executable unit. Fallbacks is a flat, ranked
// list; a fallback never carries fallbacks of its own.
type AtomicSwapPlan struct {
	ID             string                   `json:"id"`
	Request        PlanRequest              `json:"request"`
	InputAsset     string                   `json:"input_asset"`
	OutputAsset    string                   `json:"output_asset"`
	TotalInput     float64                  `json:"total_input"`
	ExpectedOutput float64                  `json:"expected_output"`
	MinOutput      float64                  `json:"min_output"`
	CreatedAt      time.Time                `json:"created_at"`
	ExpiresAt      time.Time                `json:"expires_at"`
	QuoteValidity  time.Duration            `json:"quote_validity"`
	Legs           []PlanLeg                `json:"legs"`
	Snapshot       []SnapshotEntry          `json:"snapshot"`
	Thresholds     RebalanceThresholds      `json:"thresholds"`
	Strategy       *RoutingStrategyMetadata `json:"strategy,omitempty"`
	FootprintRatio float64                  `json:"footprint_ratio"`
	MEVRisk        MEVRisk                  `json:"mev_risk"`
	Fallbacks      []AtomicSwapPlan         `json:"fallbacks,omitempty"`
}

// Executable reports whether the plan is still inside its validity window.
func (p *AtomicSwapPlan) Executable(now time.Time) bool {
	return !now.After(p.ExpiresAt)
}

// Candidates returns the primary followed by its fallbacks, in rank order.
func (p *AtomicSwapPlan) Candidates() []*AtomicSwapPlan {
	out := make([]*AtomicSwapPlan, 0, 1+len(p.Fallbacks))
	out = append(out, p)
	for i := range p.Fallbacks {
		out = append(out, &p.Fallbacks[i])
	}
	return out
}

// SnapshotFor returns the baseline for venue.
func (p *AtomicSwapPlan) SnapshotFor(venue string) (SnapshotEntry, bool) {
	for _, s := range p.Snapshot {
		if s.Venue == venue {
			return s, true
		}
	}
	return SnapshotEntry{}, false
}

// Venues lists the venues of the plan's legs.
func (p *AtomicSwapPlan) Venues() []string {
	out := make([]string, len(p.Legs))
	for i, l := range p.Legs {
		out[i] = l.Venue
	}
	return out
}

// ImpliedPrice is expected output per unit input.
func (p *AtomicSwapPlan) ImpliedPrice() float64 {
	if p.TotalInput <= 0 {
		return 0
	}
	return p.ExpectedOutput / p.TotalInput
}

// RebalanceReason names the first condition that made a plan stale.
type RebalanceReason string

const (
	ReasonNone           RebalanceReason = ""
	ReasonExpired        RebalanceReason = "expired"
	ReasonVenueMissing   RebalanceReason = "venue_missing"
	ReasonPriceDrift     RebalanceReason = "price_drift"
	ReasonLiquidityDrop  RebalanceReason = "liquidity_drop"
	ReasonQuoteStale     RebalanceReason = "quote_stale"
	ReasonSnapshotAbsent RebalanceReason = "snapshot_missing"
)

// LegDiff compares one leg's venue against its build-time snapshot.
type LegDiff struct {
	Venue          string        `json:"venue"`
	SnapshotPrice  float64       `json:"snapshot_price"`
	CurrentPrice   float64       `json:"current_price"`
	DriftBps       float64       `json:"drift_bps"`
	SnapshotDepth  float64       `json:"snapshot_depth"`
	CurrentDepth   float64       `json:"current_depth"`
	LiquidityRatio float64       `json:"liquidity_ratio"`
	QuoteAge       time.Duration `json:"quote_age"`
	Missing        bool          `json:"missing,omitempty"`
}

// PlanEvaluation is the verdict of re-checking a plan against the market.
type PlanEvaluation struct {
	PlanID          string          `json:"plan_id"`
	ShouldRebalance bool            `json:"should_rebalance"`
	Reason          RebalanceReason `json:"reason,omitempty"`
	Diffs           []LegDiff       `json:"diffs"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
}
