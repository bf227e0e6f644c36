// Package mev classifies front-running exposure and submits protected
// bundles.
package mev

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

const lamportsPerSOL = 1_000_000_000

// Exposure thresholds. AMM-heavy routes become risky at a smaller footprint
// because pool state is public and the price curve is deterministic.
const (
	highFootprint      = 0.10
	mediumFootprint    = 0.02
	ammHeavyShare      = 0.5
	ammHighFootprint   = 0.03
	ammMediumFootprint = 0.005
)

// ClassifyExposure scores a route from its size-to-depth ratio and the share
// of input routed through AMMs.
func ClassifyExposure(footprint, ammShare float64) domain.MEVRisk {
	ammHeavy := ammShare >= ammHeavyShare
	switch {
	case footprint >= highFootprint, ammHeavy && footprint >= ammHighFootprint:
		return domain.MEVRiskHigh
	case footprint >= mediumFootprint, ammHeavy && footprint >= ammMediumFootprint:
		return domain.MEVRiskMedium
	default:
		return domain.MEVRiskLow
	}
}

// RiskAssessment explains a plan's classification.
type RiskAssessment struct {
	Risk           domain.MEVRisk `json:"risk"`
	FootprintRatio float64        `json:"footprint_ratio"`
	AMMShare       float64        `json:"amm_share"`
	Reasons        []string       `json:"reasons,omitempty"`
}

// AssessPlan classifies a plan from its legs.
func AssessPlan(plan *domain.AtomicSwapPlan) RiskAssessment {
	var amm float64
	for _, leg := range plan.Legs {
		if leg.Kind == domain.VenueAMM {
			amm += leg.InputAmount
		}
	}
	share := 0.0
	if plan.TotalInput > 0 {
		share = amm / plan.TotalInput
	}
	ra := RiskAssessment{
		Risk:           ClassifyExposure(plan.FootprintRatio, share),
		FootprintRatio: plan.FootprintRatio,
		AMMShare:       share,
	}
	if plan.FootprintRatio >= mediumFootprint {
		ra.Reasons = append(ra.Reasons, fmt.Sprintf("footprint %.2f%% of depth", plan.FootprintRatio*100))
	}
	if share >= ammHeavyShare {
		ra.Reasons = append(ra.Reasons, fmt.Sprintf("%.0f%% routed through AMMs", share*100))
	}
	return ra
}

// TipPolicy parameterises tip and priority fee sizing.
type TipPolicy struct {
	TipBps          float64
	MinTipLamports  uint64
	MaxTipLamports  uint64
	BasePriorityFee uint64
}

// Tip is the bid attached to a bundle.
type Tip struct {
	Lamports                 uint64
	PriorityFeeMicroLamports uint64
}

// CalculateTip sizes a tip as TipBps of trade value scaled by -ln(1-p), so
// the bid grows without bound as the desired landing probability p
// approaches one. nativePriceUSD converts the USD tip to lamports.
func CalculateTip(policy TipPolicy, tradeValueUSD, landingProbability, nativePriceUSD float64, risk domain.MEVRisk) Tip {
	p := math.Min(math.Max(landingProbability, 0.01), 0.999)
	tipUSD := tradeValueUSD * policy.TipBps / 10_000 * -math.Log(1-p)

	var lamports uint64
	if nativePriceUSD > 0 && tipUSD > 0 {
		lamports = uint64(math.Round(tipUSD / nativePriceUSD * lamportsPerSOL))
	}
	lamports = max(lamports, policy.MinTipLamports)
	if policy.MaxTipLamports > 0 {
		lamports = min(lamports, policy.MaxTipLamports)
	}

	mult := uint64(1)
	switch risk {
	case domain.MEVRiskMedium:
		mult = 2
	case domain.MEVRiskHigh:
		mult = 4
	}
	return Tip{Lamports: lamports, PriorityFeeMicroLamports: policy.BasePriorityFee * mult}
}
