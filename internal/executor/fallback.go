package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// executeSingle verifies plan against the oracle and walks its fallback
// chain.
func (e *SwapExecutor) executeSingle(ctx context.Context, req domain.SwapRequest, plan *domain.AtomicSwapPlan, r *run) (*domain.SwapResult, error) {
	verification, err := e.verify(ctx, req, plan)
	if err != nil {
		return nil, err
	}
	tradeValue := e.tradeValue(ctx, plan)

	res, err := e.runChain(ctx, req, plan, tradeValue, r)
	if err != nil {
		return nil, err
	}
	res.Verification = verification
	if verification != nil {
		res.Metrics.OracleDeviation = verification.Deviation
	}
	return res, nil
}

// verify applies the oracle veto. A nil verification means no check ran.
func (e *SwapExecutor) verify(ctx context.Context, req domain.SwapRequest, plan *domain.AtomicSwapPlan) (*domain.PriceVerification, error) {
	if e.verifier == nil {
		if !e.cfg.AllowUnverified {
			return nil, fmt.Errorf("executor: verify plan %s: %w: no oracle configured", plan.ID, domain.ErrOracleRejected)
		}
		return nil, nil
	}
	maxDev := req.MaxOracleDeviation
	if maxDev <= 0 {
		maxDev = e.cfg.MaxOracleDeviation
	}
	v, err := e.verifier.VerifyPlanPrice(ctx, plan, maxDev)
	if err != nil {
		if !e.cfg.AllowUnverified {
			return nil, fmt.Errorf("executor: verify plan %s: %w", plan.ID, err)
		}
		e.logger.WarnContext(ctx, "oracle unavailable, proceeding unverified",
			slog.String("plan_id", plan.ID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if !v.IsAcceptable {
		if !req.AllowPriceDeviation {
			return &v, &domain.OracleVetoError{Verification: v}
		}
		e.logger.WarnContext(ctx, "price deviation acknowledged by caller",
			slog.String("plan_id", plan.ID),
			slog.Float64("deviation", v.Deviation),
			slog.Float64("max_deviation", maxDev),
		)
	}
	return &v, nil
}

func (e *SwapExecutor) tradeValue(ctx context.Context, plan *domain.AtomicSwapPlan) float64 {
	if e.verifier == nil {
		return 0
	}
	v, err := e.verifier.TradeValueUSD(ctx, plan.InputAsset, plan.TotalInput)
	if err != nil {
		e.logger.DebugContext(ctx, "trade value unavailable",
			slog.String("asset", plan.InputAsset),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return v
}

// runChain attempts the primary then each fallback in rank order. Every
// attempt that reaches submission records on the breaker exactly once.
// Expired fallbacks are skipped without touching the breaker.
func (e *SwapExecutor) runChain(ctx context.Context, req domain.SwapRequest, plan *domain.AtomicSwapPlan, tradeValue float64, r *run) (*domain.SwapResult, error) {
	chain := &domain.ExecutionError{}
	opts := CandidateOptions{
		Wallet:               e.wallet(plan),
		TradeValueUSD:        tradeValue,
		DisableMEVProtection: req.DisableMEVProtection,
	}

	for i, cand := range plan.Candidates() {
		if i > 0 {
			if err := e.breaker.Admit(); err != nil {
				e.logger.WarnContext(ctx, "fallback chain halted, circuit open",
					slog.String("plan_id", plan.ID),
					slog.Int("attempted", len(chain.Attempts)),
				)
				return nil, errors.Join(chain, err)
			}
		}
		if err := ctx.Err(); err != nil {
			e.record(r, chain, cand, err)
			return nil, chain
		}
		if i > 0 && !cand.Executable(e.nowFunc()) {
			e.metrics.SwapAttempt("skipped")
			e.record(r, chain, cand, fmt.Errorf("executor: fallback %s: %w", cand.ID, domain.ErrPlanExpired))
			continue
		}

		out, err := e.candidate.ExecuteCandidate(ctx, cand, opts)
		if err == nil && len(out.Signatures) == 0 {
			err = fmt.Errorf("executor: %s: %w: no signatures", cand.ID, domain.ErrExecutionReverted)
		}
		if err != nil {
			e.breaker.RecordFailure()
			e.metrics.SwapAttempt("failure")
			e.record(r, chain, cand, err)
			e.logger.WarnContext(ctx, "plan attempt failed",
				slog.String("plan_id", cand.ID),
				slog.Int("rank", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.breaker.RecordSuccess()
		e.metrics.SwapAttempt("success")
		e.record(r, nil, cand, nil)

		res := &domain.SwapResult{
			ExecutionID:   r.exec.ID,
			Signature:     out.Signatures[len(out.Signatures)-1],
			Success:       true,
			PlanID:        cand.ID,
			Routes:        cand.Legs,
			TradeValueUSD: tradeValue,
			Attempts:      append([]domain.AttemptRecord(nil), r.attempts...),
			Bundle:        out.Bundle,
			Metrics: domain.SwapMetrics{
				InputAmount:    cand.TotalInput,
				ExpectedOutput: cand.ExpectedOutput,
				OutputAmount:   out.OutputAmount,
				Chunks:         1,
				FallbacksUsed:  i,
				MEVProtected:   out.Protected,
				Duration:       e.nowFunc().Sub(r.startedAt),
			},
		}
		return res, nil
	}
	return nil, chain
}

func (e *SwapExecutor) record(r *run, chain *domain.ExecutionError, plan *domain.AtomicSwapPlan, err error) {
	rec := domain.AttemptRecord{PlanID: plan.ID, Venues: plan.Venues(), At: e.nowFunc().UTC()}
	if err != nil {
		rec.Error = err.Error()
	}
	r.attempts = append(r.attempts, rec)
	if chain != nil && err != nil {
		chain.Attempts = append(chain.Attempts, domain.AttemptError{PlanID: plan.ID, Venues: plan.Venues(), Err: err})
	}
}

func (e *SwapExecutor) wallet(plan *domain.AtomicSwapPlan) string {
	if plan.Request.Wallet != "" {
		return plan.Request.Wallet
	}
	return e.cfg.Wallet
}
