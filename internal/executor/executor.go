package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/metrics"
)

// Planner builds fresh atomic plans.
type Planner interface {
	BuildAtomicPlan(ctx context.Context, req domain.PlanRequest) (*domain.AtomicSwapPlan, error)
}

// Verifier checks a plan against oracle prices and values trades in USD.
type Verifier interface {
	VerifyPlanPrice(ctx context.Context, plan *domain.AtomicSwapPlan, maxDeviation float64) (domain.PriceVerification, error)
	TradeValueUSD(ctx context.Context, asset string, amount float64) (float64, error)
}

// Admission is the circuit breaker as seen by the executor.
type Admission interface {
	Admit() error
	IsTripped() bool
	RecordSuccess()
	RecordFailure()
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Alert event names.
const (
	EventSwapFailed = "swap_failed"
	EventSwapVetoed = "swap_vetoed"
	EventSwapFilled = "swap_filled"
)

// Config controls SwapExecutor behaviour.
type Config struct {
	// MaxOracleDeviation applies when a request does not set its own.
	MaxOracleDeviation float64
	// AllowUnverified lets a swap proceed when oracle prices cannot be read.
	AllowUnverified bool
	TWAPSliceDelay  time.Duration
	TWAPMaxSlices   int
	DedupTTL        time.Duration
	LockTTL         time.Duration
	Wallet          string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxOracleDeviation: 0.02,
		TWAPSliceDelay:     5 * time.Second,
		TWAPMaxSlices:      12,
		DedupTTL:           10 * time.Minute,
		LockTTL:            2 * time.Minute,
	}
}

// Option configures optional SwapExecutor collaborators.
type Option func(*SwapExecutor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *SwapExecutor) { e.nowFunc = now }
}

// WithSleep overrides how the executor waits between TWAP chunks.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *SwapExecutor) { e.sleep = sleep }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *SwapExecutor) { e.metrics = m }
}

// WithLocker serialises executions of one client request across processes.
func WithLocker(l domain.LockManager) Option {
	return func(e *SwapExecutor) { e.locker = l }
}

// WithJournal records every execution.
func WithJournal(s domain.SwapExecutionStore) Option {
	return func(e *SwapExecutor) { e.journal = s }
}

// WithReports archives a JSON report of every terminal execution.
func WithReports(w domain.BlobWriter) Option {
	return func(e *SwapExecutor) { e.reports = w }
}

// WithSignalBus publishes swap events.
func WithSignalBus(bus domain.SignalBus) Option {
	return func(e *SwapExecutor) { e.bus = bus }
}

// WithNotifier sends alerts on terminal outcomes.
func WithNotifier(n Notifier) Option {
	return func(e *SwapExecutor) { e.notifier = n }
}

// SwapExecutor runs the end-to-end swap flow: admission, planning, oracle
// veto, then either a fallback chain or a TWAP split.
type SwapExecutor struct {
	planner   Planner
	verifier  Verifier
	breaker   Admission
	candidate CandidateExecutor
	dedup     *Dedup
	cfg       Config
	logger    *slog.Logger

	locker   domain.LockManager
	journal  domain.SwapExecutionStore
	reports  domain.BlobWriter
	bus      domain.SignalBus
	notifier Notifier
	metrics  *metrics.Metrics
	nowFunc  func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a SwapExecutor. verifier may be nil, in which case oracle
// checks are skipped and trade values are zero.
func New(planner Planner, verifier Verifier, b Admission, candidate CandidateExecutor, cfg Config, logger *slog.Logger, opts ...Option) *SwapExecutor {
	e := &SwapExecutor{
		planner:   planner,
		verifier:  verifier,
		breaker:   b,
		candidate: candidate,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "swap_executor")),
		nowFunc:   time.Now,
		sleep:     sleepCtx,
	}
	for _, o := range opts {
		o(e)
	}
	e.dedup = NewDedup(cfg.DedupTTL, e.nowFunc)
	return e
}

// Dedup exposes the request-ID window so callers can schedule Cleanup.
func (e *SwapExecutor) Dedup() *Dedup { return e.dedup }

// run carries the state of one ExecuteSwap call.
type run struct {
	exec      domain.SwapExecution
	attempts  []domain.AttemptRecord
	startedAt time.Time
}

// ExecuteSwap executes req end to end.
func (e *SwapExecutor) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (*domain.SwapResult, error) {
	if err := e.breaker.Admit(); err != nil {
		e.logger.WarnContext(ctx, "swap rejected, circuit open", slog.String("error", err.Error()))
		return nil, err
	}
	if e.dedup.IsDuplicate(req.ClientRequestID) {
		return nil, fmt.Errorf("executor: request %s: %w", req.ClientRequestID, domain.ErrDuplicateRequest)
	}

	if e.locker != nil && req.ClientRequestID != "" {
		unlock, err := e.locker.Acquire(ctx, "swap:"+req.ClientRequestID, e.cfg.LockTTL)
		if err != nil {
			e.dedup.Forget(req.ClientRequestID)
			return nil, fmt.Errorf("executor: lock request %s: %w", req.ClientRequestID, err)
		}
		defer unlock()
	}

	r := &run{startedAt: e.nowFunc()}
	r.exec = domain.SwapExecution{
		ID:              uuid.New().String(),
		ClientRequestID: req.ClientRequestID,
		InputAsset:      req.PlanRequest.InputAsset,
		OutputAsset:     req.PlanRequest.OutputAsset,
		InputAmount:     req.PlanRequest.Amount,
		Status:          domain.SwapPending,
		StartedAt:       r.startedAt.UTC(),
	}
	if req.Plan != nil {
		r.exec.InputAsset = req.Plan.InputAsset
		r.exec.OutputAsset = req.Plan.OutputAsset
		r.exec.InputAmount = req.Plan.TotalInput
	}
	if e.journal != nil {
		if err := e.journal.Create(ctx, r.exec); err != nil {
			e.logger.WarnContext(ctx, "journal create failed",
				slog.String("execution_id", r.exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	res, err := e.execute(ctx, req, r)
	e.finish(ctx, r, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *SwapExecutor) execute(ctx context.Context, req domain.SwapRequest, r *run) (*domain.SwapResult, error) {
	plan, err := e.resolvePlan(ctx, req)
	if err != nil {
		return nil, err
	}
	r.exec.PlanID = plan.ID

	if req.ForceTWAP || (plan.Strategy != nil && plan.Strategy.Profile == domain.ProfileTWAPAssisted) {
		return e.executeTWAP(ctx, req, plan, r)
	}
	return e.executeSingle(ctx, req, plan, r)
}

// resolvePlan returns the caller's plan, rebuilt from its request when it has
// expired, or builds one.
func (e *SwapExecutor) resolvePlan(ctx context.Context, req domain.SwapRequest) (*domain.AtomicSwapPlan, error) {
	if req.Plan != nil {
		if req.Plan.Executable(e.nowFunc()) {
			return req.Plan, nil
		}
		e.logger.InfoContext(ctx, "caller plan expired, rebuilding", slog.String("plan_id", req.Plan.ID))
		plan, err := e.planner.BuildAtomicPlan(ctx, req.Plan.Request)
		if err != nil {
			return nil, fmt.Errorf("executor: rebuild expired plan %s: %w", req.Plan.ID, err)
		}
		return plan, nil
	}
	plan, err := e.planner.BuildAtomicPlan(ctx, req.PlanRequest)
	if err != nil {
		return nil, fmt.Errorf("executor: build plan: %w", err)
	}
	return plan, nil
}

// finish journals, publishes, archives and alerts on the terminal outcome.
func (e *SwapExecutor) finish(ctx context.Context, r *run, res *domain.SwapResult, err error) {
	now := e.nowFunc()
	status := statusOf(err)
	r.exec.Status = status
	r.exec.CompletedAt = ptrTime(now.UTC())
	r.exec.Attempts = len(r.attempts)

	var partial *domain.SwapResult
	var chunkErr *domain.TwapChunkError
	if errors.As(err, &chunkErr) {
		partial = &chunkErr.Partial
	}
	switch {
	case res != nil:
		r.exec.OutputAmount = res.Metrics.OutputAmount
		r.exec.TradeValueUSD = res.TradeValueUSD
		r.exec.Signature = res.Signature
	case partial != nil:
		r.exec.OutputAmount = partial.Metrics.OutputAmount
		r.exec.TradeValueUSD = partial.TradeValueUSD
		r.exec.Signature = partial.Signature
	}
	if err != nil {
		r.exec.Error = err.Error()
	}
	e.metrics.SwapFinished(string(status), now.Sub(r.startedAt))

	// Persisting outlives a cancelled caller.
	bg := context.WithoutCancel(ctx)
	if e.journal != nil {
		if jerr := e.journal.Complete(bg, r.exec, r.attempts); jerr != nil {
			e.logger.WarnContext(ctx, "journal complete failed",
				slog.String("execution_id", r.exec.ID),
				slog.String("error", jerr.Error()),
			)
		}
	}

	event := domain.SwapEvent{
		ExecutionID: r.exec.ID,
		Status:      status,
		Result:      res,
		Error:       r.exec.Error,
		At:          now.UTC(),
	}
	if event.Result == nil {
		event.Result = partial
	}
	e.publish(bg, event)
	e.archive(bg, r, event)
	e.alert(bg, r, status)

	attrs := []any{
		slog.String("execution_id", r.exec.ID),
		slog.String("plan_id", r.exec.PlanID),
		slog.String("status", string(status)),
		slog.Int("attempts", len(r.attempts)),
		slog.Float64("output", r.exec.OutputAmount),
	}
	if err != nil {
		e.logger.WarnContext(ctx, "swap finished", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	e.logger.InfoContext(ctx, "swap finished", attrs...)
}

func (e *SwapExecutor) publish(ctx context.Context, ev domain.SwapEvent) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, domain.ChannelSwapResults, payload); err != nil {
		e.logger.WarnContext(ctx, "publish swap event failed", slog.String("error", err.Error()))
	}
	if err := e.bus.StreamAppend(ctx, domain.StreamSwapJournal, payload); err != nil {
		e.logger.WarnContext(ctx, "append swap journal stream failed", slog.String("error", err.Error()))
	}
}

// report is the archived form of one execution.
type report struct {
	Execution domain.SwapExecution   `json:"execution"`
	Attempts  []domain.AttemptRecord `json:"attempts"`
	Event     domain.SwapEvent       `json:"event"`
}

// ReportPath is the object key an execution's report is archived under.
func ReportPath(exec domain.SwapExecution) string {
	return fmt.Sprintf("executions/%s/%s.json", exec.StartedAt.UTC().Format("2006/01/02"), exec.ID)
}

func (e *SwapExecutor) archive(ctx context.Context, r *run, ev domain.SwapEvent) {
	if e.reports == nil {
		return
	}
	body, err := json.Marshal(report{Execution: r.exec, Attempts: r.attempts, Event: ev})
	if err != nil {
		return
	}
	path := ReportPath(r.exec)
	if err := e.reports.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		e.logger.WarnContext(ctx, "archive execution report failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func (e *SwapExecutor) alert(ctx context.Context, r *run, status domain.SwapStatus) {
	if e.notifier == nil {
		return
	}
	var event, title string
	switch status {
	case domain.SwapFilled:
		event, title = EventSwapFilled, "Swap filled"
	case domain.SwapVetoed:
		event, title = EventSwapVetoed, "Swap vetoed by oracle"
	default:
		event, title = EventSwapFailed, "Swap failed"
	}
	msg := fmt.Sprintf("%s %.8g %s -> %s (plan %s, %d attempts)",
		r.exec.ID, r.exec.InputAmount, r.exec.InputAsset, r.exec.OutputAsset, r.exec.PlanID, len(r.attempts))
	if r.exec.Error != "" {
		msg += "\n" + r.exec.Error
	}
	if err := e.notifier.Notify(ctx, event, title, msg); err != nil {
		e.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

func statusOf(err error) domain.SwapStatus {
	var veto *domain.OracleVetoError
	var chunkErr *domain.TwapChunkError
	switch {
	case err == nil:
		return domain.SwapFilled
	case errors.As(err, &chunkErr) && len(chunkErr.Partial.ChunkSignatures) > 0:
		return domain.SwapPartial
	case errors.As(err, &veto):
		return domain.SwapVetoed
	default:
		return domain.SwapFailed
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
