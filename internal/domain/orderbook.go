package domain

import (
	"math"
	"slices"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Usable reports whether the level can be traded against.
func (l PriceLevel) Usable() bool {
	return l.Price > 0 && l.Size > 0 && !math.IsInf(l.Price, 0) && !math.IsInf(l.Size, 0)
}

// BookDirection says which side of the book a swap consumes.
type BookDirection string

const (
	// SellBase sells the base asset into the bids; input is base, output is quote.
	SellBase BookDirection = "sell_base"
	// BuyBase lifts the asks; input is quote, output is base.
	BuyBase BookDirection = "buy_base"
)

// Orderbook is the raw ladder a CLOB venue reports for a pair.
// Bids are sorted best (highest) first, asks best (lowest) first.
type Orderbook struct {
	Bids        []PriceLevel  `json:"bids"`
	Asks        []PriceLevel  `json:"asks"`
	Direction   BookDirection `json:"direction"`
	TakerFeeBps float64       `json:"taker_fee_bps"`
}

// Levels returns the side of the book consumed by Direction.
func (b *Orderbook) Levels() []PriceLevel {
	if b.Direction == BuyBase {
		return b.Asks
	}
	return b.Bids
}

// InputCapacity is the total input the usable levels of the consumed side
// can absorb, in input units (base for sell_base, quote for buy_base).
func (b *Orderbook) InputCapacity() float64 {
	var total float64
	for _, lvl := range b.Levels() {
		if !lvl.Usable() {
			continue
		}
		if b.Direction == BuyBase {
			total += lvl.Price * lvl.Size
		} else {
			total += lvl.Size
		}
	}
	return total
}

// Sanitized returns a copy with unusable levels dropped, bids sorted highest
// first and asks lowest first.
func (b *Orderbook) Sanitized() *Orderbook {
	out := *b
	out.Bids = usableLevels(b.Bids)
	out.Asks = usableLevels(b.Asks)
	slices.SortStableFunc(out.Bids, func(x, y PriceLevel) int { return cmpFloat(y.Price, x.Price) })
	slices.SortStableFunc(out.Asks, func(x, y PriceLevel) int { return cmpFloat(x.Price, y.Price) })
	return &out
}

func usableLevels(levels []PriceLevel) []PriceLevel {
	var out []PriceLevel
	for _, lvl := range levels {
		if lvl.Usable() {
			out = append(out, lvl)
		}
	}
	return out
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Reserves is a constant-product pool's reserve pair oriented to the swap.
type Reserves struct {
	In     float64 `json:"in"`
	Out    float64 `json:"out"`
	FeeBps float64 `json:"fee_bps"`
}
