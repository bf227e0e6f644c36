package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swaprouter/internal/breaker"
	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/router"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func samplePlan(id string) *domain.AtomicSwapPlan {
	return &domain.AtomicSwapPlan{
		ID:             id,
		Request:        domain.PlanRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: 10},
		InputAsset:     "SOL",
		OutputAsset:    "USDC",
		TotalInput:     10,
		ExpectedOutput: 1500,
		MinOutput:      1492.5,
		CreatedAt:      t0,
		ExpiresAt:      t0.Add(30 * time.Second),
		Legs: []domain.PlanLeg{
			{Venue: "orca", Kind: domain.VenueAMM, InputAmount: 10, ExpectedOutput: 1500, MinOutput: 1492.5},
		},
	}
}

// serve routes a single request through a mux so path values resolve.
func serve(pattern string, h http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rdr)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// ---------------------------------------------------------------------------
// Plans
// ---------------------------------------------------------------------------

type fakePlans struct {
	buildErr error
	eval     domain.PlanEvaluation
	got      domain.PlanRequest
}

func (f *fakePlans) BuildAtomicPlan(_ context.Context, req domain.PlanRequest) (*domain.AtomicSwapPlan, error) {
	f.got = req
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return samplePlan("plan-1"), nil
}

func (f *fakePlans) EvaluatePlan(_ context.Context, plan *domain.AtomicSwapPlan) (domain.PlanEvaluation, error) {
	e := f.eval
	e.PlanID = plan.ID
	return e, nil
}

type fakeMonitors struct {
	mu       sync.Mutex
	started  map[string]time.Duration
	startErr error
}

func (f *fakeMonitors) Start(_ context.Context, plan *domain.AtomicSwapPlan, interval time.Duration) (*router.PlanMonitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.started == nil {
		f.started = map[string]time.Duration{}
	}
	f.started[plan.ID] = interval
	return nil, nil
}

func (f *fakeMonitors) Stop(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.started[id]; !ok {
		return fmt.Errorf("router: monitor %s: %w", id, domain.ErrNotFound)
	}
	delete(f.started, id)
	return nil
}

func newPlanHandler(p *fakePlans, m *fakeMonitors) *PlanHandler {
	return NewPlanHandler(context.Background(), p, m, 0, discard())
}

func TestBuildPlan(t *testing.T) {
	p := &fakePlans{}
	h := newPlanHandler(p, &fakeMonitors{})

	rec := serve("POST /api/plans", h.BuildPlan, http.MethodPost, "/api/plans",
		domain.PlanRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: 10, SlippageBps: 50})

	require.Equal(t, http.StatusCreated, rec.Code)
	plan := decode[domain.AtomicSwapPlan](t, rec)
	assert.Equal(t, "plan-1", plan.ID)
	assert.Equal(t, 50.0, p.got.SlippageBps)
}

func TestBuildPlan_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("router: %w: amount 0", domain.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("router: %w", domain.ErrNoLiquidity), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newPlanHandler(&fakePlans{buildErr: tc.err}, &fakeMonitors{})
		rec := serve("POST /api/plans", h.BuildPlan, http.MethodPost, "/api/plans",
			domain.PlanRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: 1})
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestBuildPlan_RejectsUnknownFields(t *testing.T) {
	h := newPlanHandler(&fakePlans{}, &fakeMonitors{})
	rec := serve("POST /api/plans", h.BuildPlan, http.MethodPost, "/api/plans",
		`{"input_asset":"SOL","output_asset":"USDC","amount":1,"bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluatePlan(t *testing.T) {
	p := &fakePlans{eval: domain.PlanEvaluation{ShouldRebalance: true, Reason: domain.ReasonPriceDrift}}
	h := newPlanHandler(p, &fakeMonitors{})

	rec := serve("POST /api/plans/evaluate", h.EvaluatePlan, http.MethodPost, "/api/plans/evaluate", samplePlan("p7"))
	require.Equal(t, http.StatusOK, rec.Code)
	eval := decode[domain.PlanEvaluation](t, rec)
	assert.Equal(t, "p7", eval.PlanID)
	assert.True(t, eval.ShouldRebalance)
	assert.Equal(t, domain.ReasonPriceDrift, eval.Reason)

	empty := &domain.AtomicSwapPlan{ID: "x"}
	rec = serve("POST /api/plans/evaluate", h.EvaluatePlan, http.MethodPost, "/api/plans/evaluate", empty)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitorLifecycle(t *testing.T) {
	m := &fakeMonitors{}
	h := newPlanHandler(&fakePlans{}, m)

	rec := serve("POST /api/plans/{id}/monitor", h.StartMonitor, http.MethodPost, "/api/plans/p1/monitor",
		map[string]any{"plan": samplePlan("p1"), "interval": "500ms"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 500*time.Millisecond, m.started["p1"])

	rec = serve("POST /api/plans/{id}/monitor", h.StartMonitor, http.MethodPost, "/api/plans/p1/monitor",
		map[string]any{"plan": samplePlan("other")})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "path and body ids must match")

	rec = serve("DELETE /api/plans/{id}/monitor", h.StopMonitor, http.MethodDelete, "/api/plans/p1/monitor", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve("DELETE /api/plans/{id}/monitor", h.StopMonitor, http.MethodDelete, "/api/plans/p1/monitor", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartMonitor_DefaultIntervalAndDuplicate(t *testing.T) {
	m := &fakeMonitors{}
	h := NewPlanHandler(context.Background(), &fakePlans{}, m, 3*time.Second, discard())

	rec := serve("POST /api/plans/{id}/monitor", h.StartMonitor, http.MethodPost, "/api/plans/p1/monitor",
		map[string]any{"plan": samplePlan("p1")})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 3*time.Second, m.started["p1"])

	m.startErr = fmt.Errorf("router: monitor p1: %w", domain.ErrDuplicateRequest)
	rec = serve("POST /api/plans/{id}/monitor", h.StartMonitor, http.MethodPost, "/api/plans/p1/monitor",
		map[string]any{"plan": samplePlan("p1")})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve("POST /api/plans/{id}/monitor", h.StartMonitor, http.MethodPost, "/api/plans/p1/monitor",
		map[string]any{"plan": samplePlan("p1"), "interval": "-1s"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---------------------------------------------------------------------------
// Swaps
// ---------------------------------------------------------------------------

type fakeSwaps struct {
	res *domain.SwapResult
	err error
	got domain.SwapRequest
}

func (f *fakeSwaps) ExecuteSwap(_ context.Context, req domain.SwapRequest) (*domain.SwapResult, error) {
	f.got = req
	return f.res, f.err
}

func TestExecuteSwap_Success(t *testing.T) {
	s := &fakeSwaps{res: &domain.SwapResult{ExecutionID: "e1", Signature: "sig-1", Success: true}}
	h := NewSwapHandler(s, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/swaps", h.ExecuteSwap)
	body, _ := json.Marshal(domain.SwapRequest{PlanRequest: domain.PlanRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: 1}})
	req := httptest.NewRequest(http.MethodPost, "/api/swaps", bytes.NewReader(body))
	req.Header.Set("Idempotency-Key", "idem-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[domain.SwapResult](t, rec)
	assert.Equal(t, "sig-1", res.Signature)
	assert.Equal(t, "idem-1", s.got.ClientRequestID)
}

func TestExecuteSwap_CircuitOpen(t *testing.T) {
	retry := time.Now().Add(20 * time.Second)
	h := NewSwapHandler(&fakeSwaps{err: &domain.CircuitOpenError{RetryAt: retry}}, discard())

	rec := serve("POST /api/swaps", h.ExecuteSwap, http.MethodPost, "/api/swaps", domain.SwapRequest{})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	resp := decode[swapErrorResponse](t, rec)
	require.NotNil(t, resp.RetryAt)
	assert.WithinDuration(t, retry, *resp.RetryAt, time.Millisecond)
}

func TestExecuteSwap_OracleVeto(t *testing.T) {
	v := domain.PriceVerification{OraclePrice: 150, RoutePrice: 140, Deviation: 0.0667}
	h := NewSwapHandler(&fakeSwaps{err: &domain.OracleVetoError{Verification: v}}, discard())

	rec := serve("POST /api/swaps", h.ExecuteSwap, http.MethodPost, "/api/swaps", domain.SwapRequest{})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[swapErrorResponse](t, rec)
	require.NotNil(t, resp.Verification)
	assert.InDelta(t, 0.0667, resp.Verification.Deviation, 1e-12)
}

func TestExecuteSwap_ExhaustedChainAndPartialTWAP(t *testing.T) {
	chain := &domain.ExecutionError{Attempts: []domain.AttemptError{
		{PlanID: "p", Venues: []string{"orca"}, Err: domain.ErrExecutionReverted},
		{PlanID: "f1", Venues: []string{"phoenix"}, Err: domain.ErrExecutionReverted},
	}}
	h := NewSwapHandler(&fakeSwaps{err: chain}, discard())
	rec := serve("POST /api/swaps", h.ExecuteSwap, http.MethodPost, "/api/swaps", domain.SwapRequest{})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[swapErrorResponse](t, rec)
	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, "f1", resp.Attempts[1].PlanID)

	partial := &domain.TwapChunkError{Chunk: 2, Total: 3, Partial: domain.SwapResult{ChunkSignatures: []string{"sig-1"}}, Err: chain}
	h = NewSwapHandler(&fakeSwaps{err: partial}, discard())
	rec = serve("POST /api/swaps", h.ExecuteSwap, http.MethodPost, "/api/swaps", domain.SwapRequest{})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp = decode[swapErrorResponse](t, rec)
	require.NotNil(t, resp.Partial)
	assert.Equal(t, []string{"sig-1"}, resp.Partial.ChunkSignatures)
}

func TestExecuteSwap_Duplicate(t *testing.T) {
	h := NewSwapHandler(&fakeSwaps{err: fmt.Errorf("executor: %w", domain.ErrDuplicateRequest)}, discard())
	rec := serve("POST /api/swaps", h.ExecuteSwap, http.MethodPost, "/api/swaps", domain.SwapRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

type fixedBreaker breaker.Snapshot

func (f fixedBreaker) Snapshot() breaker.Snapshot { return breaker.Snapshot(f) }

type fixedVenues []domain.VenueHealth

func (f fixedVenues) VenueHealth() []domain.VenueHealth { return f }

func TestStatusHandler(t *testing.T) {
	h := NewStatusHandler(
		fixedBreaker{State: domain.BreakerOpen, ConsecutiveFailures: 3},
		fixedVenues{{Venue: "orca", Healthy: true}, {Venue: "phoenix", ConsecutiveFailures: 4}},
	)

	rec := serve("GET /api/breaker", h.GetBreaker, http.MethodGet, "/api/breaker", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[breaker.Snapshot](t, rec)
	assert.Equal(t, domain.BreakerOpen, snap.State)
	assert.EqualValues(t, 3, snap.ConsecutiveFailures)

	rec = serve("GET /api/venues/health", h.GetVenueHealth, http.MethodGet, "/api/venues/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	vh := decode[venueHealthResponse](t, rec)
	assert.Equal(t, 1, vh.Healthy)
	assert.Equal(t, 2, vh.Total)
}

// ---------------------------------------------------------------------------
// Executions
// ---------------------------------------------------------------------------

type memJournal struct {
	rows map[string]domain.SwapExecution
	opts domain.ListOpts
}

func (m *memJournal) Create(context.Context, domain.SwapExecution) error { return nil }
func (m *memJournal) Complete(context.Context, domain.SwapExecution, []domain.AttemptRecord) error {
	return nil
}

func (m *memJournal) GetByID(_ context.Context, id string) (domain.SwapExecution, error) {
	e, ok := m.rows[id]
	if !ok {
		return domain.SwapExecution{}, domain.ErrNotFound
	}
	return e, nil
}

func (m *memJournal) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.SwapExecution, error) {
	m.opts = opts
	var out []domain.SwapExecution
	for _, e := range m.rows {
		out = append(out, e)
	}
	return out, nil
}

type memReports map[string]string

func (m memReports) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := m[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestExecutionHandler(t *testing.T) {
	j := &memJournal{rows: map[string]domain.SwapExecution{
		"e1": {ID: "e1", Status: domain.SwapFilled, StartedAt: t0},
	}}
	reports := memReports{"reports/e1": `{"execution":{"id":"e1"}}`}
	locate := func(e domain.SwapExecution) string { return "reports/" + e.ID }
	h := NewExecutionHandler(j, reports, locate, discard())

	rec := serve("GET /api/executions", h.ListExecutions, http.MethodGet,
		"/api/executions?limit=900&offset=2&since=2026-03-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listExecutionsResponse](t, rec)
	assert.Len(t, list.Executions, 1)
	assert.Equal(t, 500, j.opts.Limit)
	assert.Equal(t, 2, j.opts.Offset)
	require.NotNil(t, j.opts.Since)

	rec = serve("GET /api/executions/{id}", h.GetExecution, http.MethodGet, "/api/executions/e1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.SwapFilled, decode[domain.SwapExecution](t, rec).Status)

	rec = serve("GET /api/executions/{id}", h.GetExecution, http.MethodGet, "/api/executions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve("GET /api/executions/{id}/report", h.GetReport, http.MethodGet, "/api/executions/e1/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"execution":{"id":"e1"}}`, rec.Body.String())
}

func TestExecutionHandler_ReportsDisabled(t *testing.T) {
	h := NewExecutionHandler(&memJournal{}, nil, nil, discard())
	rec := serve("GET /api/executions/{id}/report", h.GetReport, http.MethodGet, "/api/executions/e1/report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("server", map[string]Check{
		"redis": func(context.Context) error { return nil },
	}, discard())
	rec := serve("GET /api/health", h.HealthCheck, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "server", body["mode"])

	h = NewHealthHandler("server", map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}, discard())
	rec = serve("GET /api/health", h.HealthCheck, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decode[map[string]any](t, rec)
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["redis"])
	assert.Equal(t, "connection refused", deps["postgres"])
}
