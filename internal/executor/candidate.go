package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/mev"
)

// Submission is the gateway's answer to a direct send.
type Submission struct {
	Signatures   []string `json:"signatures"`
	OutputAmount float64  `json:"output_amount"`
}

// Gateway builds signed transactions for a plan and submits them. Wallet
// custody and instruction encoding live behind it.
type Gateway interface {
	BuildTransactions(ctx context.Context, plan *domain.AtomicSwapPlan, wallet string) ([]string, error)
	SendTransactions(ctx context.Context, txs []string) (Submission, error)
}

// PriceSource prices the native asset for tip sizing.
type PriceSource interface {
	GetPrice(ctx context.Context, asset string) (domain.OraclePriceData, error)
}

// CandidateOptions carries per-swap settings into one plan attempt.
type CandidateOptions struct {
	Wallet               string
	TradeValueUSD        float64
	DisableMEVProtection bool
}

// CandidateResult is the outcome of one successful plan attempt.
type CandidateResult struct {
	Signatures   []string
	OutputAmount float64
	Bundle       *domain.BundleResult
	Protected    bool
}

// CandidateExecutor executes exactly one plan with no retries.
type CandidateExecutor interface {
	ExecuteCandidate(ctx context.Context, plan *domain.AtomicSwapPlan, opts CandidateOptions) (CandidateResult, error)
}

// GatewayExecutor submits through the gateway, as a protected bundle when
// the plan's MEV exposure warrants it and directly otherwise or when the
// bundle does not land.
type GatewayExecutor struct {
	gateway     Gateway
	protector   *mev.Protector
	prices      PriceSource
	nativeAsset string
	logger      *slog.Logger
}

// NewGatewayExecutor creates a GatewayExecutor. protector and prices may be
// nil.
func NewGatewayExecutor(gw Gateway, protector *mev.Protector, prices PriceSource, nativeAsset string, logger *slog.Logger) *GatewayExecutor {
	return &GatewayExecutor{
		gateway:     gw,
		protector:   protector,
		prices:      prices,
		nativeAsset: nativeAsset,
		logger:      logger.With(slog.String("component", "gateway_executor")),
	}
}

// ExecuteCandidate implements CandidateExecutor.
func (g *GatewayExecutor) ExecuteCandidate(ctx context.Context, plan *domain.AtomicSwapPlan, opts CandidateOptions) (CandidateResult, error) {
	txs, err := g.gateway.BuildTransactions(ctx, plan, opts.Wallet)
	if err != nil {
		return CandidateResult{}, fmt.Errorf("executor: build transactions for %s: %w", plan.ID, err)
	}

	var res CandidateResult
	risk := mev.AssessPlan(plan).Risk
	if !opts.DisableMEVProtection && g.protector.ShouldProtect(risk) {
		bundle, berr := g.protector.Protect(ctx, plan, txs, opts.TradeValueUSD, g.nativePrice(ctx))
		if berr == nil {
			res.Signatures = bundle.Signatures
			res.OutputAmount = plan.ExpectedOutput
			res.Bundle = &bundle
			res.Protected = true
			return res, nil
		}
		g.logger.WarnContext(ctx, "bundle did not land, submitting directly",
			slog.String("plan_id", plan.ID),
			slog.String("risk", string(risk)),
			slog.String("error", berr.Error()),
		)
		res.Bundle = &bundle
	}

	sub, err := g.gateway.SendTransactions(ctx, txs)
	if err != nil {
		return res, fmt.Errorf("executor: send %s: %w: %w", plan.ID, domain.ErrExecutionReverted, err)
	}
	if len(sub.Signatures) == 0 {
		return res, fmt.Errorf("executor: send %s: %w: no signatures returned", plan.ID, domain.ErrExecutionReverted)
	}
	res.Signatures = sub.Signatures
	res.OutputAmount = sub.OutputAmount
	if res.OutputAmount == 0 {
		res.OutputAmount = plan.ExpectedOutput
	}
	if res.OutputAmount < plan.MinOutput {
		return res, fmt.Errorf("executor: %s: %w: output %.8g below floor %.8g",
			plan.ID, domain.ErrExecutionReverted, res.OutputAmount, plan.MinOutput)
	}
	return res, nil
}

func (g *GatewayExecutor) nativePrice(ctx context.Context) float64 {
	if g.prices == nil || g.nativeAsset == "" {
		return 0
	}
	p, err := g.prices.GetPrice(ctx, g.nativeAsset)
	if err != nil {
		g.logger.DebugContext(ctx, "native price unavailable, using minimum tip",
			slog.String("asset", g.nativeAsset),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return p.Price
}
