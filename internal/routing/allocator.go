package routing

import (
	"slices"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/liquidity"
)

// allocation is the input assigned to each model, index-aligned.
type allocation []float64

// greedyAllocate hands out amount in equal increments, each to the venue with
// the best marginal output per unit of input. A venue whose book runs dry only
// receives what it can still fill. At most maxSplits venues are used. It
// returns nil when the venues cannot absorb the full amount.
func greedyAllocate(models []venueModel, excluded []bool, amount float64, cfg Config) allocation {
	if len(models) == 0 || amount <= 0 {
		return nil
	}
	steps := max(cfg.SplitIncrements, 1)
	inc := amount / float64(steps)

	alloc := make(allocation, len(models))
	outs := make([]float64, len(models))
	used := 0
	remaining := amount

	for remaining > amount*1e-12 {
		stepSize := min(inc, remaining)
		best := -1
		var bestMarg, bestTake, bestOut float64

		for i, m := range models {
			if excluded[i] {
				continue
			}
			if alloc[i] == 0 && used >= cfg.MaxSplits {
				continue
			}
			take := stepSize
			if room := m.capacity - alloc[i]; room < take {
				take = room
			}
			if take <= amount*1e-12 {
				continue
			}
			next, _, ok := m.quote(alloc[i] + take)
			if !ok {
				continue
			}
			marg := (next - outs[i]) / take
			if best < 0 || better(marg, bestMarg, m.src.Kind, models[best].src.Kind, cfg) {
				best, bestMarg, bestTake, bestOut = i, marg, take, next
			}
		}
		if best < 0 {
			return nil
		}
		if alloc[best] == 0 {
			used++
		}
		alloc[best] += bestTake
		outs[best] = bestOut
		remaining -= bestTake
	}

	conserve(alloc, amount)
	return alloc
}

// better reports whether marginal price a beats b. Within epsilon, an order
// book beats other kinds when PrioritizeCLOB is set; otherwise the earlier
// venue keeps the increment.
func better(a, b float64, kindA, kindB domain.VenueKind, cfg Config) bool {
	if !liquidity.PricesEqual(a, b, cfg.PriceEpsilon) {
		return a > b
	}
	return cfg.PrioritizeCLOB && kindA == domain.VenueCLOB && kindB != domain.VenueCLOB
}

// conserve assigns float residue to the largest allocation so the splits
// sum to amount.
func conserve(alloc allocation, amount float64) {
	var sum float64
	largest := -1
	for i, a := range alloc {
		sum += a
		if largest < 0 || a > alloc[largest] {
			largest = i
		}
	}
	if largest >= 0 {
		alloc[largest] += amount - sum
	}
}

// allocate runs the greedy allocator and then enforces venue policy: splits
// below a venue's minimum trade size or above its slippage ceiling exclude
// that venue and the allocation is redone.
func allocate(models []venueModel, amount float64, cfg Config) allocation {
	excluded := make([]bool, len(models))
	for attempt := 0; attempt <= len(models); attempt++ {
		alloc := greedyAllocate(models, excluded, amount, cfg)
		if alloc == nil {
			return nil
		}
		violated := false
		for i, a := range alloc {
			if a <= 0 {
				continue
			}
			if !policyAllows(models[i], a, cfg.SampleCount) {
				excluded[i] = true
				violated = true
			}
		}
		if !violated {
			return alloc
		}
		if !slices.Contains(excluded, false) {
			return nil
		}
	}
	return nil
}

func policyAllows(m venueModel, amount float64, samples int) bool {
	if m.policy.MinTradeSize > 0 && amount < m.policy.MinTradeSize {
		return false
	}
	if m.policy.MaxSlippagePct > 0 && m.sampleSlippage(amount, samples) > m.policy.MaxSlippagePct {
		return false
	}
	return true
}
