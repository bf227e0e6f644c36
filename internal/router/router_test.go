package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/routing"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeMarket serves firm quotes stamped with the fake clock. When gate is
// set, fetches block until it is closed.
type fakeMarket struct {
	mu      sync.Mutex
	clock   *fakeClock
	sources []domain.LiquiditySource
	gate    chan struct{}
	entered chan struct{}
	calls   int
	lastReq domain.LiquidityRequest
}

func newFakeMarket(clock *fakeClock) *fakeMarket {
	return &fakeMarket{
		clock: clock,
		sources: []domain.LiquiditySource{
			{Venue: "desk-a", Kind: domain.VenueRFQ, EffectivePrice: 2.00, Depth: 1000},
			{Venue: "desk-b", Kind: domain.VenueRFQ, EffectivePrice: 1.99, Depth: 1000},
			{Venue: "desk-c", Kind: domain.VenueRFQ, EffectivePrice: 1.98, Depth: 1000},
		},
	}
}

func (f *fakeMarket) FetchAggregatedLiquidity(ctx context.Context, req domain.LiquidityRequest) (domain.AggregatedLiquidity, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	gate, entered := f.gate, f.entered
	now := f.clock.Now()
	srcs := make([]domain.LiquiditySource, len(f.sources))
	copy(srcs, f.sources)
	f.mu.Unlock()

	if gate != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.AggregatedLiquidity{}, ctx.Err()
		}
	}
	if len(srcs) == 0 {
		return domain.AggregatedLiquidity{}, domain.ErrNoLiquidity
	}
	for i := range srcs {
		srcs[i].Timestamp = now
	}
	return domain.AggregatedLiquidity{Sources: srcs, FetchedAt: now}, nil
}

func (f *fakeMarket) update(venue string, fn func(*domain.LiquiditySource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sources {
		if f.sources[i].Venue == venue {
			fn(&f.sources[i])
		}
	}
}

func (f *fakeMarket) remove(venue string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.sources[:0]
	for _, s := range f.sources {
		if s.Venue != venue {
			kept = append(kept, s)
		}
	}
	f.sources = kept
}

type recordingBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = map[string][][]byte{}
	}
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *recordingBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestRouter(market *fakeMarket, clock *fakeClock, opts ...Option) *Router {
	opt := routing.NewOptimizer(market, nil, routing.DefaultConfig(), nil, discardLogger())
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(market, opt, DefaultConfig(), discardLogger(), opts...)
}

func testPlanRequest() domain.PlanRequest {
	return domain.PlanRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: 10}
}

func TestBuildAtomicPlan(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(newFakeMarket(clock), clock)

	plan, err := r.BuildAtomicPlan(context.Background(), testPlanRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, []string{"desk-a"}, plan.Venues())
	assert.InDelta(t, 20.0, plan.ExpectedOutput, 1e-9)
	assert.InDelta(t, 20*(1-0.005), plan.MinOutput, 1e-9)
	assert.LessOrEqual(t, plan.MinOutput, plan.ExpectedOutput)
	assert.Equal(t, clock.Now(), plan.CreatedAt)
	assert.Equal(t, clock.Now().Add(15*time.Second), plan.ExpiresAt)
	assert.Equal(t, 50.0, plan.Request.SlippageBps)
	assert.Len(t, plan.Snapshot, 3)
	assert.Equal(t, DefaultConfig().Thresholds, plan.Thresholds)
	require.NotNil(t, plan.Strategy)
	assert.Equal(t, 2, plan.Strategy.FallbackCount)

	require.Len(t, plan.Fallbacks, 2)
	assert.Equal(t, []string{"desk-b"}, plan.Fallbacks[0].Venues())
	assert.Equal(t, []string{"desk-c"}, plan.Fallbacks[1].Venues())

	ids := map[string]bool{plan.ID: true}
	for _, fb := range plan.Fallbacks {
		assert.Empty(t, fb.Fallbacks)
		assert.False(t, ids[fb.ID], "duplicate plan id")
		ids[fb.ID] = true
		assert.LessOrEqual(t, fb.MinOutput, fb.ExpectedOutput)
		assert.Equal(t, plan.ExpiresAt, fb.ExpiresAt)
	}
	assert.Len(t, plan.Candidates(), 3)
}

func TestBuildAtomicPlan_QuotesExactAmountFresh(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket(clock)
	r := newTestRouter(market, clock)

	req := testPlanRequest()
	req.Amount = 10.3
	_, err := r.BuildAtomicPlan(context.Background(), req)
	require.NoError(t, err)

	market.mu.Lock()
	last := market.lastReq
	market.mu.Unlock()
	assert.True(t, last.BypassCache, "plan snapshot must not come from the bucketed cache")
	assert.Equal(t, 10.3, last.Amount)
}

func TestBuildAtomicPlan_LegFloorsUseRequestSlippage(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(newFakeMarket(clock), clock)

	req := testPlanRequest()
	req.SlippageBps = 200
	plan, err := r.BuildAtomicPlan(context.Background(), req)
	require.NoError(t, err)

	for _, leg := range plan.Legs {
		assert.InDelta(t, leg.ExpectedOutput*0.98, leg.MinOutput, 1e-9)
	}
}

func TestBuildAtomicPlan_InvalidRequests(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket(clock)
	r := newTestRouter(market, clock)

	for name, req := range map[string]domain.PlanRequest{
		"missing asset":  {InputAsset: "SOL", Amount: 1},
		"same asset":     {InputAsset: "SOL", OutputAsset: "SOL", Amount: 1},
		"zero amount":    {InputAsset: "SOL", OutputAsset: "USDC"},
		"bad slippage":   {InputAsset: "SOL", OutputAsset: "USDC", Amount: 1, SlippageBps: 10_000},
		"negative slip":  {InputAsset: "SOL", OutputAsset: "USDC", Amount: 1, SlippageBps: -1},
		"negative input": {InputAsset: "SOL", OutputAsset: "USDC", Amount: -5},
	} {
		_, err := r.BuildAtomicPlan(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest, name)
	}
	assert.Zero(t, market.calls)
}

func TestBuildAtomicPlan_NoLiquidity(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket(clock)
	market.sources = nil
	r := newTestRouter(market, clock)

	_, err := r.BuildAtomicPlan(context.Background(), testPlanRequest())
	require.ErrorIs(t, err, domain.ErrNoLiquidity)
}

func TestEvaluatePlan_IdempotentOnUnchangedMarket(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket(clock)
	r := newTestRouter(market, clock)

	plan, err := r.BuildAtomicPlan(context.Background(), testPlanRequest())
	require.NoError(t, err)

	for range 2 {
		eval, err := r.EvaluatePlan(context.Background(), plan)
		require.NoError(t, err)
		assert.False(t, eval.ShouldRebalance)
		assert.Equal(t, domain.ReasonNone, eval.Reason)
		require.Len(t, eval.Diffs, 1)
		assert.Zero(t, eval.Diffs[0].DriftBps)
		assert.Equal(t, 1.0, eval.Diffs[0].LiquidityRatio)
	}
	assert.True(t, market.lastReq.BypassCache)
	assert.Equal(t, plan.TotalInput, market.lastReq.Amount)
}

func TestEvaluatePlan_Reasons(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeMarket, *fakeClock)
		want   domain.RebalanceReason
	}{
		{"expired", func(_ *fakeMarket, c *fakeClock) { c.Advance(16 * time.Second) }, domain.ReasonExpired},
		{"venue missing", func(m *fakeMarket, _ *fakeClock) { m.remove("desk-a") }, domain.ReasonVenueMissing},
		{"price drift", func(m *fakeMarket, _ *fakeClock) {
			m.update("desk-a", func(s *domain.LiquiditySource) { s.EffectivePrice = 1.98 })
		}, domain.ReasonPriceDrift},
		{"liquidity drop", func(m *fakeMarket, _ *fakeClock) {
			m.update("desk-a", func(s *domain.LiquiditySource) { s.Depth = 500 })
		}, domain.ReasonLiquidityDrop},
		{"quote stale", func(_ *fakeMarket, c *fakeClock) { c.Advance(11 * time.Second) }, domain.ReasonQuoteStale},
		{"expired wins over drift", func(m *fakeMarket, c *fakeClock) {
			c.Advance(time.Minute)
			m.update("desk-a", func(s *domain.LiquiditySource) { s.EffectivePrice = 1.5 })
		}, domain.ReasonExpired},
		{"pair gone", func(m *fakeMarket, _ *fakeClock) { m.sources = nil }, domain.ReasonVenueMissing},
		{"small drift tolerated", func(m *fakeMarket, _ *fakeClock) {
			m.update("desk-a", func(s *domain.LiquiditySource) { s.EffectivePrice = 2.004 })
		}, domain.ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			market := newFakeMarket(clock)
			r := newTestRouter(market, clock)
			plan, err := r.BuildAtomicPlan(context.Background(), testPlanRequest())
			require.NoError(t, err)

			tt.mutate(market, clock)
			eval, err := r.EvaluatePlan(context.Background(), plan)
			require.NoError(t, err)
			assert.Equal(t, tt.want, eval.Reason)
			assert.Equal(t, tt.want != domain.ReasonNone, eval.ShouldRebalance)
		})
	}
}

func TestEvaluateAgainst_Diffs(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := &domain.AtomicSwapPlan{
		ID:        "p1",
		ExpiresAt: now.Add(time.Minute),
		Legs:      []domain.PlanLeg{{Venue: "a"}, {Venue: "b"}},
		Snapshot: []domain.SnapshotEntry{
			{Venue: "a", EffectivePrice: 100, Depth: 50, Timestamp: now.Add(-2 * time.Second)},
			{Venue: "b", EffectivePrice: 10, Depth: 10, Timestamp: now},
		},
		Thresholds: domain.RebalanceThresholds{MaxPriceDriftBps: 30, MinLiquidityRatio: 0.5, MaxStaleness: time.Minute},
	}
	liq := domain.AggregatedLiquidity{Sources: []domain.LiquiditySource{
		{Venue: "a", EffectivePrice: 100.2, Depth: 40},
	}}

	eval := EvaluateAgainst(plan, liq, now)
	require.Len(t, eval.Diffs, 2)
	assert.InDelta(t, 20.0, eval.Diffs[0].DriftBps, 1e-9)
	assert.InDelta(t, 0.8, eval.Diffs[0].LiquidityRatio, 1e-12)
	assert.Equal(t, 2*time.Second, eval.Diffs[0].QuoteAge)
	assert.True(t, eval.Diffs[1].Missing)
	assert.Equal(t, domain.ReasonVenueMissing, eval.Reason)
}

func TestPlanMonitor_RebuildsOnDrift(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket(clock)
	bus := &recordingBus{}
	r := newTestRouter(market, clock, WithSignalBus(bus))

	plan, err := r.BuildAtomicPlan(context.Background(), testPlanRequest())
	require.NoError(t, err)

	mon := r.StartMonitor(context.Background(), plan, 5*time.Millisecond)
	defer mon.Stop()

	select {
	case u := <-mon.Updates():
		assert.False(t, u.Rebuilt)
		require.NotNil(t, u.Evaluation)
		assert.False(t, u.Evaluation.ShouldRebalance)
	case <-time.After(time.Second):
		t.Fatal("no update")
	}

	market.update("desk-a", func(s *domain.LiquiditySource) { s.EffectivePrice = 1.9 })

	deadline := time.After(time.Second)
	for {
		select {
		case u := <-mon.Updates():
			if !u.Rebuilt {
				continue
			}
			assert.Equal(t, plan.ID, u.PlanID)
			require.NotNil(t, u.Plan)
			assert.Equal(t, domain.ReasonPriceDrift, u.Evaluation.Reason)
			assert.Equal(t, u.Plan, mon.Current())
			assert.NotEqual(t, plan.ID, mon.Current().ID)
			// desk-b is now the best quote.
			assert.Equal(t, []string{"desk-b"}, mon.Current().Venues())
			assert.Positive(t, bus.count(domain.ChannelPlanUpdates))
			return
		case <-deadline:
			t.Fatal("plan was not rebuilt")
		}
	}
}

func TestPlanMonitor_SkipsTicksAndDiscardsInFlightOnStop(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket(clock)
	r := newTestRouter(market, clock)

	plan, err := r.BuildAtomicPlan(context.Background(), testPlanRequest())
	require.NoError(t, err)

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	market.mu.Lock()
	market.gate, market.entered = gate, entered
	market.mu.Unlock()

	mon := r.StartMonitor(context.Background(), plan, 2*time.Millisecond)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("evaluation never started")
	}
	require.Eventually(t, func() bool { return mon.Skipped() > 0 }, time.Second, time.Millisecond)

	market.mu.Lock()
	calls := market.calls
	market.mu.Unlock()
	assert.Equal(t, 2, calls, "build plus exactly one in-flight evaluation")

	stopped := make(chan struct{})
	go func() {
		mon.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight evaluation finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	_, open := <-mon.Updates()
	assert.False(t, open, "in-flight result must be discarded and the channel closed")
	assert.Equal(t, plan, mon.Current())
}

// stopOnPublishBus stops the monitor while its update is being published.
type stopOnPublishBus struct {
	recordingBus
	stop func()
}

func (b *stopOnPublishBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.stop()
	return b.recordingBus.Publish(ctx, channel, payload)
}

func TestPlanMonitor_StopDuringPublishDropsUpdate(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket(clock)
	bus := &stopOnPublishBus{}
	r := newTestRouter(market, clock, WithSignalBus(bus))
	plan, err := r.BuildAtomicPlan(context.Background(), testPlanRequest())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		m := &PlanMonitor{
			router:  r,
			logger:  discardLogger(),
			updates: make(chan domain.PlanUpdate, 8),
			stopCh:  make(chan struct{}),
		}
		m.current.Store(plan)
		bus.stop = func() { m.stopOnce.Do(func() { close(m.stopCh) }) }

		m.tick(context.Background())
		require.Empty(t, m.updates, "iteration %d: update delivered after stop", i)
	}
	assert.Equal(t, 50, bus.count(domain.ChannelPlanUpdates))
}

func TestPlanMonitor_ContextCancelClosesUpdates(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(newFakeMarket(clock), clock)
	plan, err := r.BuildAtomicPlan(context.Background(), testPlanRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	mon := r.StartMonitor(ctx, plan, time.Hour)
	cancel()

	select {
	case <-mon.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	_, open := <-mon.Updates()
	assert.False(t, open)
	mon.Stop()
}

func TestMonitors_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(newFakeMarket(clock), clock)
	plan, err := r.BuildAtomicPlan(context.Background(), testPlanRequest())
	require.NoError(t, err)

	got := make(chan domain.PlanUpdate, 16)
	ms := NewMonitors(r, func(u domain.PlanUpdate) {
		select {
		case got <- u:
		default:
		}
	})

	_, err = ms.Start(context.Background(), plan, 5*time.Millisecond)
	require.NoError(t, err)
	_, err = ms.Start(context.Background(), plan, 5*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Equal(t, 1, ms.Len())

	select {
	case u := <-got:
		assert.Equal(t, plan.ID, u.PlanID)
		_, err := json.Marshal(u)
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sink received nothing")
	}

	require.NoError(t, ms.Stop(plan.ID))
	require.ErrorIs(t, ms.Stop(plan.ID), domain.ErrNotFound)
	assert.Zero(t, ms.Len())

	_, err = ms.Start(context.Background(), plan, time.Hour)
	require.NoError(t, err)
	ms.StopAll()
	assert.Zero(t, ms.Len())
}
