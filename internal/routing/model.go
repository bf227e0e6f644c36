package routing

import (
	"math"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

type pricing int

const (
	pricingBook pricing = iota
	pricingPool
	pricingLinear
)

// venueModel simulates one venue's output for arbitrary input sizes.
type venueModel struct {
	src      domain.LiquiditySource
	policy   domain.VenueConfig
	pricing  pricing
	feeBps   float64
	capacity float64
}

func newVenueModel(src domain.LiquiditySource, policy domain.VenueConfig) venueModel {
	if src.Orderbook != nil {
		src.Orderbook = src.Orderbook.Sanitized()
	}
	m := venueModel{src: src, policy: policy}
	switch {
	case src.Orderbook != nil && len(src.Orderbook.Levels()) > 0:
		m.pricing = pricingBook
		m.feeBps = src.Orderbook.TakerFeeBps
		m.capacity = src.Orderbook.InputCapacity()
	case src.Reserves != nil:
		m.pricing = pricingPool
		m.feeBps = src.Reserves.FeeBps
		if m.feeBps == 0 {
			m.feeBps = policy.FeeBps
		}
		m.capacity = math.Inf(1)
	default:
		// Firm quote: EffectivePrice is net of the venue's own fees, so only
		// the configured policy fee is applied on top.
		m.pricing = pricingLinear
		m.feeBps = policy.FeeBps
		m.capacity = src.Depth
	}
	return m
}

// quote returns net output and the fee charged (in output units) for amount.
// ok is false when the venue cannot fill amount in full.
func (m venueModel) quote(amount float64) (out, fee float64, ok bool) {
	if amount <= 0 {
		return 0, 0, true
	}
	switch m.pricing {
	case pricingBook:
		f := simulateBook(m.src.Orderbook, amount)
		return f.NetOutput, f.GrossOutput - f.NetOutput, !f.Exhausted
	case pricingPool:
		r := m.src.Reserves
		net := ConstantProductOut(r.In, r.Out, amount, m.feeBps)
		gross := ConstantProductOut(r.In, r.Out, amount, 0)
		return net, gross - net, true
	default:
		gross := amount * m.src.EffectivePrice
		net := gross * (1 - m.feeBps/10_000)
		return net, gross - net, amount <= m.capacity*(1+fillTolerance)
	}
}

// spot is the gross marginal price at zero size.
func (m venueModel) spot() float64 {
	switch m.pricing {
	case pricingBook:
		return topOfBook(m.src.Orderbook)
	case pricingPool:
		return ConstantProductSpot(m.src.Reserves.In, m.src.Reserves.Out)
	default:
		return m.src.EffectivePrice
	}
}

// depth is the input the venue reports it can absorb; used for footprint.
func (m venueModel) depth() float64 {
	if m.pricing == pricingBook {
		return m.capacity
	}
	return m.src.Depth
}

// sampleSlippage measures price impact at amount by progressive geometric
// sampling: amount/2^(n-1), ..., amount/2, amount. It returns the percentage
// drop of the average price at amount versus the smallest sample.
func (m venueModel) sampleSlippage(amount float64, n int) float64 {
	if amount <= 0 || n <= 1 {
		return 0
	}
	var ref, last float64
	for k := n - 1; k >= 0; k-- {
		size := amount / math.Pow(2, float64(k))
		out, _, ok := m.quote(size)
		if !ok || out <= 0 {
			break
		}
		p := out / size
		if ref == 0 {
			ref = p
		}
		last = p
	}
	if ref <= 0 || last <= 0 {
		return 0
	}
	return math.Max(0, (ref-last)/ref*100)
}
