package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// schedule resolves the chunk count and inter-chunk delay. Request values win
// over the route's recommendation, which wins over configuration.
func (e *SwapExecutor) schedule(req domain.SwapRequest, plan *domain.AtomicSwapPlan) (int, time.Duration) {
	n := req.TWAPSlices
	if n <= 0 && plan.Strategy != nil {
		n = plan.Strategy.RecommendedSlices
	}
	if n <= 0 {
		n = 2
	}
	if e.cfg.TWAPMaxSlices > 0 && n > e.cfg.TWAPMaxSlices {
		n = e.cfg.TWAPMaxSlices
	}

	interval := req.TWAPInterval
	if interval <= 0 && plan.Strategy != nil {
		interval = plan.Strategy.RecommendedInterval
	}
	if interval <= 0 {
		interval = e.cfg.TWAPSliceDelay
	}
	return n, interval
}

// executeTWAP slices the plan's input into equal chunks, the last absorbing
// any remainder, and executes them sequentially. Each chunk is planned
// afresh against current liquidity. The first failing chunk aborts the rest.
func (e *SwapExecutor) executeTWAP(ctx context.Context, req domain.SwapRequest, plan *domain.AtomicSwapPlan, r *run) (*domain.SwapResult, error) {
	n, interval := e.schedule(req, plan)
	total := plan.TotalInput
	size := total / float64(n)

	agg := domain.SwapResult{
		ExecutionID: r.exec.ID,
		PlanID:      plan.ID,
		Metrics: domain.SwapMetrics{
			InputAmount:    total,
			ExpectedOutput: plan.ExpectedOutput,
		},
	}
	logger := e.logger.With(slog.String("plan_id", plan.ID), slog.Int("chunks", n))
	logger.InfoContext(ctx, "starting twap execution",
		slog.Float64("total_input", total),
		slog.Duration("interval", interval),
	)

	abort := func(i int, err error) error {
		e.metrics.TWAPChunk("failure")
		agg.Attempts = append([]domain.AttemptRecord(nil), r.attempts...)
		agg.Metrics.Duration = e.nowFunc().Sub(r.startedAt)
		logger.WarnContext(ctx, "twap chunk failed, aborting schedule",
			slog.Int("chunk", i+1),
			slog.String("error", err.Error()),
		)
		return &domain.TwapChunkError{Chunk: i + 1, Total: n, Partial: agg, Err: err}
	}

	for i := 0; i < n; i++ {
		if i > 0 {
			if err := e.sleep(ctx, interval); err != nil {
				return nil, abort(i, err)
			}
			if err := e.breaker.Admit(); err != nil {
				return nil, abort(i, err)
			}
		}

		amount := size
		if i == n-1 {
			amount = total - size*float64(n-1)
		}
		creq := plan.Request
		creq.Amount = amount
		chunkPlan, err := e.planner.BuildAtomicPlan(ctx, creq)
		if err != nil {
			return nil, abort(i, fmt.Errorf("executor: plan chunk %d/%d: %w", i+1, n, err))
		}

		res, err := e.executeSingle(ctx, req, chunkPlan, r)
		if err != nil {
			return nil, abort(i, err)
		}
		e.metrics.TWAPChunk("success")

		agg.Signature = res.Signature
		agg.ChunkSignatures = append(agg.ChunkSignatures, res.Signature)
		agg.Routes = append(agg.Routes, res.Routes...)
		agg.TradeValueUSD += res.TradeValueUSD
		agg.Metrics.OutputAmount += res.Metrics.OutputAmount
		agg.Metrics.FallbacksUsed += res.Metrics.FallbacksUsed
		agg.Metrics.Chunks++
		agg.Metrics.MEVProtected = agg.Metrics.MEVProtected || res.Metrics.MEVProtected
		if res.Metrics.OracleDeviation > agg.Metrics.OracleDeviation {
			agg.Metrics.OracleDeviation = res.Metrics.OracleDeviation
		}
		if res.Bundle != nil {
			agg.Bundle = res.Bundle
		}
		if res.Verification != nil {
			agg.Verification = res.Verification
		}
		logger.DebugContext(ctx, "twap chunk filled",
			slog.Int("chunk", i+1),
			slog.Float64("amount", amount),
			slog.String("signature", res.Signature),
		)
	}

	agg.Success = true
	agg.Attempts = append([]domain.AttemptRecord(nil), r.attempts...)
	agg.Metrics.Duration = e.nowFunc().Sub(r.startedAt)
	return &agg, nil
}
