package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderbook_InputCapacitySkipsUnusableLevels(t *testing.T) {
	sell := &Orderbook{
		Bids:      []PriceLevel{{Price: 0, Size: 1000}, {Price: 100, Size: 5}, {Price: math.Inf(1), Size: 1}},
		Direction: SellBase,
	}
	assert.InDelta(t, 5.0, sell.InputCapacity(), 1e-12)

	buy := &Orderbook{
		Asks:      []PriceLevel{{Price: 101, Size: 4}, {Price: 102, Size: 0}},
		Direction: BuyBase,
	}
	assert.InDelta(t, 404.0, buy.InputCapacity(), 1e-12)
}

func TestOrderbook_Sanitized(t *testing.T) {
	b := &Orderbook{
		Bids:        []PriceLevel{{Price: 90, Size: 5}, {Price: 0, Size: 9}, {Price: 100, Size: 5}},
		Asks:        []PriceLevel{{Price: 103, Size: 1}, {Price: 101, Size: 2}, {Price: 102, Size: -1}},
		Direction:   SellBase,
		TakerFeeBps: 5,
	}
	clean := b.Sanitized()

	assert.Equal(t, []PriceLevel{{Price: 100, Size: 5}, {Price: 90, Size: 5}}, clean.Bids)
	assert.Equal(t, []PriceLevel{{Price: 101, Size: 2}, {Price: 103, Size: 1}}, clean.Asks)
	assert.Equal(t, SellBase, clean.Direction)
	assert.InDelta(t, 5.0, clean.TakerFeeBps, 1e-12)
	assert.Len(t, b.Bids, 3)
	assert.InDelta(t, 90.0, b.Bids[0].Price, 1e-12)
}
