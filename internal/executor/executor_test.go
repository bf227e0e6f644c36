package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swaprouter/internal/breaker"
	"github.com/alanyoungcy/swaprouter/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func testPlan(id string, amount float64, expires time.Time, fallbackIDs ...string) *domain.AtomicSwapPlan {
	mk := func(id string) domain.AtomicSwapPlan {
		return domain.AtomicSwapPlan{
			ID:             id,
			Request:        domain.PlanRequest{InputAsset: "USDC", OutputAsset: "SOL", Amount: amount},
			InputAsset:     "USDC",
			OutputAsset:    "SOL",
			TotalInput:     amount,
			ExpectedOutput: amount / 100,
			MinOutput:      amount / 100 * 0.995,
			ExpiresAt:      expires,
			Legs: []domain.PlanLeg{{
				Venue: "venue-" + id, Kind: domain.VenueCLOB, InputAmount: amount,
				ExpectedOutput: amount / 100, MinOutput: amount / 100 * 0.995,
			}},
			Strategy: &domain.RoutingStrategyMetadata{Profile: domain.ProfileSingleVenue},
		}
	}
	p := mk(id)
	for _, fid := range fallbackIDs {
		p.Fallbacks = append(p.Fallbacks, mk(fid))
	}
	return &p
}

type fakePlanner struct {
	mu      sync.Mutex
	clock   *fakeClock
	build   func(n int, req domain.PlanRequest) (*domain.AtomicSwapPlan, error)
	amounts []float64
}

func (f *fakePlanner) BuildAtomicPlan(_ context.Context, req domain.PlanRequest) (*domain.AtomicSwapPlan, error) {
	f.mu.Lock()
	f.amounts = append(f.amounts, req.Amount)
	n := len(f.amounts)
	f.mu.Unlock()
	if f.build != nil {
		return f.build(n, req)
	}
	return testPlan(fmt.Sprintf("plan-%d", n), req.Amount, f.clock.Now().Add(15*time.Second)), nil
}

func (f *fakePlanner) calls() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.amounts...)
}

type fakeVerifier struct {
	verification domain.PriceVerification
	err          error
	usdPerUnit   float64
}

func (f *fakeVerifier) VerifyPlanPrice(context.Context, *domain.AtomicSwapPlan, float64) (domain.PriceVerification, error) {
	return f.verification, f.err
}

func (f *fakeVerifier) TradeValueUSD(_ context.Context, _ string, amount float64) (float64, error) {
	return amount * f.usdPerUnit, nil
}

func acceptable() *fakeVerifier {
	return &fakeVerifier{
		verification: domain.PriceVerification{OraclePrice: 0.01, RoutePrice: 0.01, IsAcceptable: true},
		usdPerUnit:   1,
	}
}

// fakeCandidate fails plans listed in failures and signs the rest with
// sequential signatures.
type fakeCandidate struct {
	mu       sync.Mutex
	failures map[string]error
	failFrom int // fail every call from this index on (1-based); 0 disables
	calls    []string
}

func (f *fakeCandidate) ExecuteCandidate(_ context.Context, plan *domain.AtomicSwapPlan, _ CandidateOptions) (CandidateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, plan.ID)
	if err, ok := f.failures[plan.ID]; ok {
		return CandidateResult{}, err
	}
	if f.failFrom > 0 && len(f.calls) >= f.failFrom {
		return CandidateResult{}, fmt.Errorf("%w: slippage", domain.ErrExecutionReverted)
	}
	return CandidateResult{
		Signatures:   []string{fmt.Sprintf("sig-%d", len(f.calls))},
		OutputAmount: plan.ExpectedOutput,
	}, nil
}

func (f *fakeCandidate) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeJournal struct {
	mu        sync.Mutex
	created   []domain.SwapExecution
	completed []domain.SwapExecution
	attempts  [][]domain.AttemptRecord
}

func (f *fakeJournal) Create(_ context.Context, e domain.SwapExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, e)
	return nil
}

func (f *fakeJournal) Complete(_ context.Context, e domain.SwapExecution, a []domain.AttemptRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, e)
	f.attempts = append(f.attempts, a)
	return nil
}

func (f *fakeJournal) GetByID(context.Context, string) (domain.SwapExecution, error) {
	return domain.SwapExecution{}, domain.ErrNotFound
}

func (f *fakeJournal) ListRecent(context.Context, domain.ListOpts) ([]domain.SwapExecution, error) {
	return nil, nil
}

type recordingBus struct {
	mu        sync.Mutex
	published map[string]int
	streamed  map[string]int
}

func (b *recordingBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = map[string]int{}
	}
	b.published[channel]++
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *recordingBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamed == nil {
		b.streamed = map[string]int{}
	}
	b.streamed[stream]++
	return nil
}

type memBlob struct {
	mu    sync.Mutex
	paths []string
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if _, err := io.ReadAll(data); err != nil {
		return err
	}
	m.mu.Lock()
	m.paths = append(m.paths, path)
	m.mu.Unlock()
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	return nil
}

type stubLocker struct{ err error }

func (l stubLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() {}, nil
}

type harness struct {
	clock     *fakeClock
	planner   *fakePlanner
	verifier  *fakeVerifier
	breaker   *breaker.Breaker
	candidate *fakeCandidate
	sleeps    []time.Duration
	exec      *SwapExecutor
}

func newHarness(t *testing.T, failureThreshold int, cfg Config, opts ...Option) *harness {
	t.Helper()
	clock := &fakeClock{now: t0}
	h := &harness{
		clock:     clock,
		planner:   &fakePlanner{clock: clock},
		verifier:  acceptable(),
		breaker:   breaker.New(breaker.Config{FailureThreshold: failureThreshold, SuccessThreshold: 1, ResetTimeout: time.Minute}, nil, discardLogger()),
		candidate: &fakeCandidate{failures: map[string]error{}},
	}
	opts = append([]Option{
		WithClock(clock.Now),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			clock.Advance(d)
			return nil
		}),
	}, opts...)
	h.exec = New(h.planner, h.verifier, h.breaker, h.candidate, cfg, discardLogger(), opts...)
	return h
}

func swapReq(amount float64) domain.SwapRequest {
	return domain.SwapRequest{PlanRequest: domain.PlanRequest{InputAsset: "USDC", OutputAsset: "SOL", Amount: amount}}
}

func TestExecuteSwap_PrimarySucceeds(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())

	res, err := h.exec.ExecuteSwap(context.Background(), swapReq(1000))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "sig-1", res.Signature)
	assert.Equal(t, "plan-1", res.PlanID)
	assert.Equal(t, 0, res.Metrics.FallbacksUsed)
	assert.Equal(t, 1, res.Metrics.Chunks)
	assert.InDelta(t, 10.0, res.Metrics.OutputAmount, 1e-9)
	assert.InDelta(t, 1000.0, res.TradeValueUSD, 1e-9)
	require.NotNil(t, res.Verification)
	assert.True(t, res.Verification.IsAcceptable)
	require.Len(t, res.Attempts, 1)
	assert.Empty(t, res.Attempts[0].Error)
	assert.Equal(t, uint32(1), h.breaker.Snapshot().ConsecutiveSuccess)
}

func TestExecuteSwap_FallsBackInRankOrder(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	h.planner.build = func(int, domain.PlanRequest) (*domain.AtomicSwapPlan, error) {
		return testPlan("primary", 1000, t0.Add(15*time.Second), "fb-1", "fb-2"), nil
	}
	h.candidate.failures["primary"] = fmt.Errorf("%w: stale account", domain.ErrExecutionReverted)

	res, err := h.exec.ExecuteSwap(context.Background(), swapReq(1000))
	require.NoError(t, err)

	assert.Equal(t, "fb-1", res.PlanID)
	assert.Equal(t, 1, res.Metrics.FallbacksUsed)
	assert.Equal(t, []string{"primary", "fb-1"}, h.candidate.called())
	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[0].Error, "stale account")
	assert.Equal(t, []string{"venue-primary"}, res.Attempts[0].Venues)

	snap := h.breaker.Snapshot()
	assert.Equal(t, uint32(0), snap.ConsecutiveFailures)
	assert.Equal(t, uint32(1), snap.ConsecutiveSuccess)
}

func TestExecuteSwap_FallbackExhaustion(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	h.planner.build = func(int, domain.PlanRequest) (*domain.AtomicSwapPlan, error) {
		return testPlan("primary", 1000, t0.Add(15*time.Second), "fb-1"), nil
	}
	lastErr := errors.New("fallback reverted")
	h.candidate.failures["primary"] = errors.New("primary reverted")
	h.candidate.failures["fb-1"] = lastErr

	res, err := h.exec.ExecuteSwap(context.Background(), swapReq(1000))
	require.Error(t, err)
	assert.Nil(t, res)

	assert.ErrorIs(t, err, lastErr)
	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Len(t, execErr.Attempts, 2)
	assert.Equal(t, "primary", execErr.Attempts[0].PlanID)
	assert.Equal(t, "fb-1", execErr.Attempts[1].PlanID)
	assert.Equal(t, lastErr, execErr.Last())

	assert.Equal(t, uint32(2), h.breaker.Snapshot().ConsecutiveFailures)
	assert.Equal(t, domain.BreakerClosed, h.breaker.State())
}

func TestExecuteSwap_CircuitOpenRejectsBeforePlanning(t *testing.T) {
	h := newHarness(t, 1, DefaultConfig())
	h.breaker.RecordFailure()
	require.True(t, h.breaker.IsTripped())

	_, err := h.exec.ExecuteSwap(context.Background(), swapReq(1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)

	var open *domain.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.False(t, open.RetryAt.IsZero())
	assert.Empty(t, h.planner.calls())
	assert.Empty(t, h.candidate.called())
}

func TestExecuteSwap_BreakerTripMidChainHaltsFallbacks(t *testing.T) {
	h := newHarness(t, 1, DefaultConfig())
	h.planner.build = func(int, domain.PlanRequest) (*domain.AtomicSwapPlan, error) {
		return testPlan("primary", 1000, t0.Add(15*time.Second), "fb-1"), nil
	}
	h.candidate.failures["primary"] = errors.New("primary reverted")

	_, err := h.exec.ExecuteSwap(context.Background(), swapReq(1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)

	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Len(t, execErr.Attempts, 1)
	assert.Equal(t, []string{"primary"}, h.candidate.called())
}

func TestExecuteSwap_OracleVeto(t *testing.T) {
	journal := &fakeJournal{}
	h := newHarness(t, 5, DefaultConfig(), WithJournal(journal))
	h.verifier.verification = domain.PriceVerification{OraclePrice: 0.01, RoutePrice: 0.0095, Deviation: 0.05}

	_, err := h.exec.ExecuteSwap(context.Background(), swapReq(1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOracleRejected)

	var veto *domain.OracleVetoError
	require.ErrorAs(t, err, &veto)
	assert.InDelta(t, 0.05, veto.Verification.Deviation, 1e-12)
	assert.Empty(t, h.candidate.called())
	assert.Equal(t, uint32(0), h.breaker.Snapshot().ConsecutiveFailures)

	require.Len(t, journal.completed, 1)
	assert.Equal(t, domain.SwapVetoed, journal.completed[0].Status)
}

func TestExecuteSwap_AcknowledgedDeviationProceeds(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	h.verifier.verification = domain.PriceVerification{OraclePrice: 0.01, RoutePrice: 0.0095, Deviation: 0.05}

	req := swapReq(1000)
	req.AllowPriceDeviation = true
	res, err := h.exec.ExecuteSwap(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, res.Metrics.OracleDeviation, 1e-12)
	require.NotNil(t, res.Verification)
	assert.False(t, res.Verification.IsAcceptable)
}

func TestExecuteSwap_OracleUnavailable(t *testing.T) {
	oracleDown := fmt.Errorf("%w: both providers failed", domain.ErrOracleRejected)

	h := newHarness(t, 5, DefaultConfig())
	h.verifier.err = oracleDown
	_, err := h.exec.ExecuteSwap(context.Background(), swapReq(1000))
	assert.ErrorIs(t, err, oracleDown)
	assert.Empty(t, h.candidate.called())

	cfg := DefaultConfig()
	cfg.AllowUnverified = true
	h = newHarness(t, 5, cfg)
	h.verifier.err = oracleDown
	res, err := h.exec.ExecuteSwap(context.Background(), swapReq(1000))
	require.NoError(t, err)
	assert.Nil(t, res.Verification)
}

func TestExecuteSwap_NoOracleConfigured(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	exec := New(h.planner, nil, h.breaker, h.candidate, DefaultConfig(), discardLogger(), WithClock(h.clock.Now))
	_, err := exec.ExecuteSwap(context.Background(), swapReq(1000))
	assert.ErrorIs(t, err, domain.ErrOracleRejected)
	assert.Empty(t, h.candidate.called())

	cfg := DefaultConfig()
	cfg.AllowUnverified = true
	exec = New(h.planner, nil, h.breaker, h.candidate, cfg, discardLogger(), WithClock(h.clock.Now))
	res, err := exec.ExecuteSwap(context.Background(), swapReq(1000))
	require.NoError(t, err)
	assert.Nil(t, res.Verification)
}

func TestExecuteSwap_ExpiredFallbackSkipped(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	h.planner.build = func(int, domain.PlanRequest) (*domain.AtomicSwapPlan, error) {
		p := testPlan("primary", 1000, t0.Add(15*time.Second), "fb-1", "fb-2")
		p.Fallbacks[0].ExpiresAt = t0.Add(-time.Second)
		return p, nil
	}
	h.candidate.failures["primary"] = errors.New("primary reverted")

	res, err := h.exec.ExecuteSwap(context.Background(), swapReq(1000))
	require.NoError(t, err)

	assert.Equal(t, "fb-2", res.PlanID)
	assert.Equal(t, []string{"primary", "fb-2"}, h.candidate.called())
	require.Len(t, res.Attempts, 3)
	assert.Contains(t, res.Attempts[1].Error, domain.ErrPlanExpired.Error())
	assert.Equal(t, uint32(1), h.breaker.Snapshot().ConsecutiveSuccess)
}

func TestExecuteSwap_ExpiredCallerPlanIsRebuilt(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	stale := testPlan("stale", 750, t0.Add(-time.Second))

	res, err := h.exec.ExecuteSwap(context.Background(), domain.SwapRequest{Plan: stale})
	require.NoError(t, err)
	assert.Equal(t, []float64{750}, h.planner.calls())
	assert.Equal(t, "plan-1", res.PlanID)
}

func TestExecuteSwap_CallerPlanUsedWhenFresh(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	fresh := testPlan("fresh", 750, t0.Add(10*time.Second))

	res, err := h.exec.ExecuteSwap(context.Background(), domain.SwapRequest{Plan: fresh})
	require.NoError(t, err)
	assert.Empty(t, h.planner.calls())
	assert.Equal(t, "fresh", res.PlanID)
}

func TestExecuteSwap_DuplicateRequest(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	req := swapReq(1000)
	req.ClientRequestID = "client-42"

	_, err := h.exec.ExecuteSwap(context.Background(), req)
	require.NoError(t, err)
	_, err = h.exec.ExecuteSwap(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Len(t, h.candidate.called(), 1)

	h.clock.Advance(DefaultConfig().DedupTTL)
	_, err = h.exec.ExecuteSwap(context.Background(), req)
	assert.NoError(t, err)
}

func TestExecuteSwap_LockHeldReleasesRequestID(t *testing.T) {
	locker := &stubLocker{err: domain.ErrLockHeld}
	h := newHarness(t, 5, DefaultConfig(), WithLocker(locker))
	req := swapReq(1000)
	req.ClientRequestID = "client-7"

	_, err := h.exec.ExecuteSwap(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	locker.err = nil
	_, err = h.exec.ExecuteSwap(context.Background(), req)
	assert.NoError(t, err)
}

func TestExecuteSwap_TWAPAggregatesChunks(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	req := swapReq(60000)
	req.ForceTWAP = true
	req.TWAPSlices = 3
	req.TWAPInterval = 4 * time.Second

	res, err := h.exec.ExecuteSwap(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "sig-3", res.Signature)
	assert.Equal(t, []string{"sig-1", "sig-2", "sig-3"}, res.ChunkSignatures)
	assert.InDelta(t, 60000.0, res.TradeValueUSD, 1e-9)
	assert.InDelta(t, 600.0, res.Metrics.OutputAmount, 1e-9)
	assert.Equal(t, 3, res.Metrics.Chunks)
	assert.Len(t, res.Routes, 3)

	// One plan for the whole request, then one fresh plan per chunk.
	assert.Equal(t, []float64{60000, 20000, 20000, 20000}, h.planner.calls())
	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second}, h.sleeps)
	assert.Equal(t, uint32(3), h.breaker.Snapshot().ConsecutiveSuccess)
}

func TestExecuteSwap_TWAPLastChunkTakesRemainder(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	req := swapReq(100)
	req.ForceTWAP = true
	req.TWAPSlices = 3

	_, err := h.exec.ExecuteSwap(context.Background(), req)
	require.NoError(t, err)

	calls := h.planner.calls()
	require.Len(t, calls, 4)
	var sum float64
	for _, a := range calls[1:] {
		sum += a
	}
	assert.InDelta(t, 100.0, sum, 1e-9)
}

func TestExecuteSwap_TWAPFromRouteProfile(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	h.planner.build = func(n int, req domain.PlanRequest) (*domain.AtomicSwapPlan, error) {
		p := testPlan(fmt.Sprintf("plan-%d", n), req.Amount, t0.Add(time.Hour))
		if n == 1 {
			p.Strategy = &domain.RoutingStrategyMetadata{
				Profile:             domain.ProfileTWAPAssisted,
				RecommendedSlices:   2,
				RecommendedInterval: 7 * time.Second,
			}
		}
		return p, nil
	}

	res, err := h.exec.ExecuteSwap(context.Background(), swapReq(5000))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Metrics.Chunks)
	assert.Equal(t, []time.Duration{7 * time.Second}, h.sleeps)
}

func TestExecuteSwap_TWAPSlicesCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TWAPMaxSlices = 2
	h := newHarness(t, 5, cfg)
	req := swapReq(900)
	req.ForceTWAP = true
	req.TWAPSlices = 9

	res, err := h.exec.ExecuteSwap(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Metrics.Chunks)
}

func TestExecuteSwap_TWAPChunkFailureAborts(t *testing.T) {
	journal := &fakeJournal{}
	h := newHarness(t, 5, DefaultConfig(), WithJournal(journal))
	h.candidate.failFrom = 2
	req := swapReq(60000)
	req.ForceTWAP = true
	req.TWAPSlices = 3

	_, err := h.exec.ExecuteSwap(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTwapChunkFailed)
	assert.ErrorIs(t, err, domain.ErrExecutionReverted)

	var chunkErr *domain.TwapChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 2, chunkErr.Chunk)
	assert.Equal(t, 3, chunkErr.Total)
	assert.Equal(t, []string{"sig-1"}, chunkErr.Partial.ChunkSignatures)
	assert.InDelta(t, 20000.0, chunkErr.Partial.TradeValueUSD, 1e-9)

	// Chunk three is never planned.
	assert.Len(t, h.planner.calls(), 3)
	require.Len(t, journal.completed, 1)
	assert.Equal(t, domain.SwapPartial, journal.completed[0].Status)
	assert.Equal(t, "sig-1", journal.completed[0].Signature)
}

func TestExecuteSwap_TWAPCancelledBetweenChunks(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	h.exec.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	req := swapReq(1000)
	req.ForceTWAP = true
	req.TWAPSlices = 2

	_, err := h.exec.ExecuteSwap(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
	var chunkErr *domain.TwapChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 2, chunkErr.Chunk)
}

func TestExecuteSwap_RecordsAndPublishesOutcome(t *testing.T) {
	journal := &fakeJournal{}
	bus := &recordingBus{}
	blob := &memBlob{}
	notifier := &recordingNotifier{}
	h := newHarness(t, 5, DefaultConfig(),
		WithJournal(journal), WithSignalBus(bus), WithReports(blob), WithNotifier(notifier))

	req := swapReq(1000)
	req.ClientRequestID = "client-1"
	res, err := h.exec.ExecuteSwap(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, journal.created, 1)
	assert.Equal(t, domain.SwapPending, journal.created[0].Status)
	assert.Equal(t, "client-1", journal.created[0].ClientRequestID)
	require.Len(t, journal.completed, 1)
	done := journal.completed[0]
	assert.Equal(t, res.ExecutionID, done.ID)
	assert.Equal(t, domain.SwapFilled, done.Status)
	assert.Equal(t, "sig-1", done.Signature)
	assert.Equal(t, 1, done.Attempts)
	require.NotNil(t, done.CompletedAt)
	assert.Len(t, journal.attempts[0], 1)

	assert.Equal(t, 1, bus.published[domain.ChannelSwapResults])
	assert.Equal(t, 1, bus.streamed[domain.StreamSwapJournal])

	require.Len(t, blob.paths, 1)
	assert.True(t, strings.HasPrefix(blob.paths[0], "executions/2026/03/01/"))
	assert.True(t, strings.HasSuffix(blob.paths[0], res.ExecutionID+".json"))

	assert.Equal(t, []string{EventSwapFilled}, notifier.events)
}

func TestExecuteSwap_FailureNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	h := newHarness(t, 5, DefaultConfig(), WithNotifier(notifier))
	h.candidate.failures["plan-1"] = errors.New("reverted")

	_, err := h.exec.ExecuteSwap(context.Background(), swapReq(1000))
	require.Error(t, err)
	assert.Equal(t, []string{EventSwapFailed}, notifier.events)
}
