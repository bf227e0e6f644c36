package domain

import (
	"context"
	"fmt"
	"math"
	"time"
)

// VenueKind classifies how a venue prices trades.
type VenueKind string

const (
	VenueAMM  VenueKind = "amm"
	VenueCLOB VenueKind = "clob"
	VenueRFQ  VenueKind = "rfq"
)

// Rank orders kinds by execution certainty. Lower ranks are preferred when
// prices tie.
func (k VenueKind) Rank() int {
	switch k {
	case VenueCLOB:
		return 0
	case VenueRFQ:
		return 1
	default:
		return 2
	}
}

// LiquiditySource is one venue's quote for a pair at the requested size.
// Depth is expressed in input units: the most input the venue can absorb.
// A venue with no liquidity is represented by a nil source.
type LiquiditySource struct {
	Venue          string            `json:"venue"`
	Kind           VenueKind         `json:"kind"`
	Depth          float64           `json:"depth"`
	EffectivePrice float64           `json:"effective_price"`
	FeeAmount      float64           `json:"fee_amount"`
	SlippagePct    float64           `json:"slippage_pct"`
	Orderbook      *Orderbook        `json:"orderbook,omitempty"`
	Reserves       *Reserves         `json:"reserves,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate rejects records that should have been reported as absent.
func (s *LiquiditySource) Validate() error {
	switch {
	case s.Venue == "":
		return fmt.Errorf("%w: missing venue", ErrInvalidSource)
	case !(s.Depth > 0) || math.IsInf(s.Depth, 0):
		return fmt.Errorf("%w: %s: depth %v", ErrInvalidSource, s.Venue, s.Depth)
	case !(s.EffectivePrice > 0) || math.IsInf(s.EffectivePrice, 0):
		return fmt.Errorf("%w: %s: effective price %v with depth %v", ErrInvalidSource, s.Venue, s.EffectivePrice, s.Depth)
	case s.Reserves != nil && (s.Reserves.In <= 0 || s.Reserves.Out <= 0):
		return fmt.Errorf("%w: %s: empty reserves", ErrInvalidSource, s.Venue)
	}
	return nil
}

// AggregatedLiquidity is the deterministically ordered result of one
// aggregation call. Staleness is the age of the oldest quote at FetchedAt.
type AggregatedLiquidity struct {
	Sources    []LiquiditySource `json:"sources"`
	TotalDepth float64           `json:"total_depth"`
	Staleness  time.Duration     `json:"staleness"`
	FetchedAt  time.Time         `json:"fetched_at"`
}

// Source returns the quote for venue, if present.
func (a AggregatedLiquidity) Source(venue string) (LiquiditySource, bool) {
	for _, s := range a.Sources {
		if s.Venue == venue {
			return s, true
		}
	}
	return LiquiditySource{}, false
}

// LiquidityRequest parameterises an aggregation call.
type LiquidityRequest struct {
	InputAsset    string   `json:"input_asset"`
	OutputAsset   string   `json:"output_asset"`
	Amount        float64  `json:"amount"`
	AllowedVenues []string `json:"allowed_venues,omitempty"`
	BypassCache   bool     `json:"-"`
}

// VenueConfig is static per-venue routing policy.
type VenueConfig struct {
	Kind           VenueKind `json:"kind"`
	FeeBps         float64   `json:"fee_bps"`
	MinTradeSize   float64   `json:"min_trade_size"`
	MaxSlippagePct float64   `json:"max_slippage_pct"`
	// TakerFeeBps overrides the taker fee reported by a CLOB venue.
	TakerFeeBps *float64 `json:"taker_fee_bps,omitempty"`
}

// VenueHealth is a point-in-time view of a venue's failure tracker.
type VenueHealth struct {
	Venue               string    `json:"venue"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CooldownUntil       time.Time `json:"cooldown_until,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	Healthy             bool      `json:"healthy"`
}

// VenueLiquiditySource is the contract every venue adapter implements. It
// returns (nil, nil) when the pair is unsupported or has no liquidity.
type VenueLiquiditySource interface {
	FetchLiquidity(ctx context.Context, inputAsset, outputAsset string, amount float64) (*LiquiditySource, error)
}
