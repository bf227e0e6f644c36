package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

var (
	testBids = []domain.PriceLevel{{Price: 100, Size: 5}, {Price: 99, Size: 10}}
	testAsks = []domain.PriceLevel{{Price: 101, Size: 4}, {Price: 102, Size: 6}}
)

func TestSimulateCLOBFill_TakerFee(t *testing.T) {
	f := SimulateCLOBFill(testBids, testAsks, domain.SellBase, 8, 5)

	assert.InDelta(t, 8.0, f.FilledInput, 1e-12)
	assert.InDelta(t, 797.0, f.GrossOutput, 1e-9)
	assert.InDelta(t, 796.6015, f.NetOutput, 1e-9)
	assert.Equal(t, 2, f.LevelsConsumed)
	assert.False(t, f.Exhausted)
	assert.InDelta(t, 99.625, f.AvgPrice, 1e-9)
}

func TestSimulateCLOBFill_Exhausted(t *testing.T) {
	f := SimulateCLOBFill(testBids, testAsks, domain.SellBase, 20, 0)

	assert.True(t, f.Exhausted)
	assert.InDelta(t, 15.0, f.FilledInput, 1e-12)
	assert.InDelta(t, 1490.0, f.GrossOutput, 1e-9)
}

func TestSimulateCLOBFill_MonotonicDepth(t *testing.T) {
	prev := 0.0
	for amount := 1.0; amount <= 25; amount++ {
		f := SimulateCLOBFill(testBids, testAsks, domain.SellBase, amount, 0)
		assert.GreaterOrEqual(t, f.FilledInput, prev, "amount %v", amount)
		assert.Equal(t, amount > 15, f.Exhausted, "amount %v", amount)
		prev = f.FilledInput
	}
}

func TestSimulateCLOBFill_BuyBaseSpendsQuote(t *testing.T) {
	// 404 quote clears the first ask level, the rest buys at 102.
	f := SimulateCLOBFill(testBids, testAsks, domain.BuyBase, 500, 0)

	assert.False(t, f.Exhausted)
	assert.InDelta(t, 500.0, f.FilledInput, 1e-9)
	assert.InDelta(t, 4+96.0/102, f.GrossOutput, 1e-9)
	assert.Equal(t, 2, f.LevelsConsumed)
}

func TestSimulateCLOBFill_SkipsEmptyLevels(t *testing.T) {
	bids := []domain.PriceLevel{{Price: 0, Size: 10}, {Price: 100, Size: 0}, {Price: 98, Size: 3}}
	f := SimulateCLOBFill(bids, nil, domain.SellBase, 2, 0)

	assert.InDelta(t, 196.0, f.GrossOutput, 1e-9)
	assert.Equal(t, 1, f.LevelsConsumed)
}

func TestSimulateCLOBFill_ZeroAmount(t *testing.T) {
	assert.Equal(t, Fill{}, SimulateCLOBFill(testBids, testAsks, domain.SellBase, 0, 5))
}

func TestConstantProductOut(t *testing.T) {
	// 10 in with 30bps fee: 9.97 reaches the pool.
	out := ConstantProductOut(1000, 2000, 10, 30)
	assert.InDelta(t, 2000*9.97/1009.97, out, 1e-9)

	assert.Less(t, out, 10*ConstantProductSpot(1000, 2000))
	assert.Zero(t, ConstantProductOut(0, 2000, 10, 30))
	assert.Zero(t, ConstantProductOut(1000, 2000, -1, 30))
}

func TestConstantProductOut_ConcaveInSize(t *testing.T) {
	small := ConstantProductOut(1000, 1000, 10, 0) / 10
	large := ConstantProductOut(1000, 1000, 500, 0) / 500
	assert.Greater(t, small, large)
}

func TestVenueModel_IgnoresUnusableLevels(t *testing.T) {
	bad := book("clob", []domain.PriceLevel{{Price: 0, Size: 1000}, {Price: 100, Size: -3}, {Price: 100, Size: 5}}, 0)
	m := newVenueModel(bad, domain.VenueConfig{})

	assert.InDelta(t, 5.0, m.capacity, 1e-12)
	assert.InDelta(t, 5.0, m.depth(), 1e-12)
	_, _, ok := m.quote(50)
	assert.False(t, ok)
	out, _, ok := m.quote(5)
	assert.True(t, ok)
	assert.InDelta(t, 500.0, out, 1e-9)
}

func TestVenueModel_WalksBestPriceFirst(t *testing.T) {
	unsorted := book("clob", []domain.PriceLevel{{Price: 90, Size: 5}, {Price: 100, Size: 5}}, 0)
	m := newVenueModel(unsorted, domain.VenueConfig{})

	out, _, ok := m.quote(5)
	require.True(t, ok)
	assert.InDelta(t, 500.0, out, 1e-9)
	assert.InDelta(t, 100.0, m.spot(), 1e-12)
	// The adapter's slice is left untouched.
	assert.InDelta(t, 90.0, unsorted.Orderbook.Bids[0].Price, 1e-12)
}

func TestRoutesFromLiquidity_FootprintIgnoresBadLevels(t *testing.T) {
	opt := newTestOptimizer(DefaultConfig(), nil)
	bad := book("clob", []domain.PriceLevel{{Price: 100, Size: 5}, {Price: 0, Size: 1000}}, 0)

	routes, err := opt.RoutesFromLiquidity(snapshot(bad), 4)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, routes[0].FootprintRatio, 1e-12)
	assert.Equal(t, domain.ProfileTWAPAssisted, routes[0].Strategy.Profile)
}
