package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// reasonOrder ranks rebalance triggers; the first one present is reported.
var reasonOrder = []domain.RebalanceReason{
	domain.ReasonExpired,
	domain.ReasonVenueMissing,
	domain.ReasonSnapshotAbsent,
	domain.ReasonPriceDrift,
	domain.ReasonLiquidityDrop,
	domain.ReasonQuoteStale,
}

// EvaluatePlan re-fetches liquidity for the plan's pair and size, bypassing
// the quote cache, and compares every leg with the build-time snapshot.
// A pair that has lost all liquidity yields a venue_missing verdict rather
// than an error.
func (r *Router) EvaluatePlan(ctx context.Context, plan *domain.AtomicSwapPlan) (domain.PlanEvaluation, error) {
	liq, err := r.liquidity.FetchAggregatedLiquidity(ctx, domain.LiquidityRequest{
		InputAsset:    plan.InputAsset,
		OutputAsset:   plan.OutputAsset,
		Amount:        plan.TotalInput,
		AllowedVenues: plan.Request.AllowedVenues,
		BypassCache:   true,
	})
	if err != nil && !errors.Is(err, domain.ErrNoLiquidity) {
		return domain.PlanEvaluation{}, fmt.Errorf("router: evaluate plan %s: %w", plan.ID, err)
	}
	eval := EvaluateAgainst(plan, liq, r.nowFunc())
	r.metrics.PlanEvaluated(string(eval.Reason))
	return eval, nil
}

// EvaluateAgainst compares plan with a liquidity snapshot at now. Drift is
// |current - snapshot| / snapshot in basis points; the liquidity ratio is
// current depth over snapshot depth; quote age is how old the snapshot
// baseline for the leg is.
func EvaluateAgainst(plan *domain.AtomicSwapPlan, liq domain.AggregatedLiquidity, now time.Time) domain.PlanEvaluation {
	eval := domain.PlanEvaluation{PlanID: plan.ID, EvaluatedAt: now}
	th := plan.Thresholds
	hit := make(map[domain.RebalanceReason]bool)

	if !plan.Executable(now) {
		hit[domain.ReasonExpired] = true
	}

	for _, leg := range plan.Legs {
		d := domain.LegDiff{Venue: leg.Venue}
		snap, haveSnap := plan.SnapshotFor(leg.Venue)
		if haveSnap {
			d.SnapshotPrice = snap.EffectivePrice
			d.SnapshotDepth = snap.Depth
			d.QuoteAge = now.Sub(snap.Timestamp)
		}

		cur, present := liq.Source(leg.Venue)
		if !present {
			d.Missing = true
			hit[domain.ReasonVenueMissing] = true
			eval.Diffs = append(eval.Diffs, d)
			continue
		}
		d.CurrentPrice = cur.EffectivePrice
		d.CurrentDepth = cur.Depth

		if !haveSnap || snap.EffectivePrice <= 0 || snap.Depth <= 0 {
			hit[domain.ReasonSnapshotAbsent] = true
			eval.Diffs = append(eval.Diffs, d)
			continue
		}

		d.DriftBps = math.Abs(cur.EffectivePrice-snap.EffectivePrice) / snap.EffectivePrice * 10_000
		d.LiquidityRatio = cur.Depth / snap.Depth

		if th.MaxPriceDriftBps > 0 && d.DriftBps > th.MaxPriceDriftBps {
			hit[domain.ReasonPriceDrift] = true
		}
		if th.MinLiquidityRatio > 0 && d.LiquidityRatio < th.MinLiquidityRatio {
			hit[domain.ReasonLiquidityDrop] = true
		}
		if th.MaxStaleness > 0 && d.QuoteAge > th.MaxStaleness {
			hit[domain.ReasonQuoteStale] = true
		}
		eval.Diffs = append(eval.Diffs, d)
	}

	for _, reason := range reasonOrder {
		if hit[reason] {
			eval.ShouldRebalance = true
			eval.Reason = reason
			break
		}
	}
	return eval
}
