package mev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/metrics"
)

// ErrBundleNotLanded is returned when a bundle fails or does not land before
// the confirmation timeout.
var ErrBundleNotLanded = errors.New("bundle not landed")

// BundleRequest is what the block engine receives.
type BundleRequest struct {
	Transactions             []string `json:"transactions"`
	TipAccount               string   `json:"tip_account"`
	TipLamports              uint64   `json:"tip_lamports"`
	PriorityFeeMicroLamports uint64   `json:"priority_fee_micro_lamports"`
}

// BundleStatus is one status poll answer.
type BundleStatus struct {
	Status     domain.BundleStatus `json:"status"`
	Signatures []string            `json:"signatures"`
	Error      string              `json:"error,omitempty"`
}

// BundleClient submits bundles to a block engine.
type BundleClient interface {
	SendBundle(ctx context.Context, req BundleRequest) (bundleID string, err error)
	GetBundleStatus(ctx context.Context, bundleID string) (BundleStatus, error)
}

// Config controls protection.
type Config struct {
	Enabled            bool
	TipAccount         string
	LandingProbability float64
	Tip                TipPolicy
	PollInterval       time.Duration
	ConfirmTimeout     time.Duration
	MinRisk            domain.MEVRisk
}

// Protector submits transactions as tipped bundles. It never retries; retry
// policy belongs to the caller.
type Protector struct {
	client  BundleClient
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProtector creates a Protector. m may be nil.
func NewProtector(client BundleClient, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Protector {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.MinRisk == "" {
		cfg.MinRisk = domain.MEVRiskMedium
	}
	return &Protector{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "mev")),
	}
}

// ShouldProtect reports whether a plan at risk warrants a bundle.
func (p *Protector) ShouldProtect(risk domain.MEVRisk) bool {
	return p != nil && p.cfg.Enabled && p.client != nil && risk.AtLeast(p.cfg.MinRisk)
}

// Protect sizes a tip for the plan and submits txs as a bundle.
func (p *Protector) Protect(ctx context.Context, plan *domain.AtomicSwapPlan, txs []string, tradeValueUSD, nativePriceUSD float64) (domain.BundleResult, error) {
	risk := AssessPlan(plan).Risk
	tip := CalculateTip(p.cfg.Tip, tradeValueUSD, p.cfg.LandingProbability, nativePriceUSD, risk)
	return p.submit(ctx, txs, p.cfg.TipAccount, tip)
}

// SubmitProtectedBundle sends txs with the given tip and polls until the
// bundle lands, fails, or the confirmation timeout passes.
func (p *Protector) SubmitProtectedBundle(ctx context.Context, txs []string, tipAccount string, tipLamports uint64) (domain.BundleResult, error) {
	return p.submit(ctx, txs, tipAccount, Tip{Lamports: tipLamports, PriorityFeeMicroLamports: p.cfg.Tip.BasePriorityFee})
}

func (p *Protector) submit(ctx context.Context, txs []string, tipAccount string, tip Tip) (domain.BundleResult, error) {
	res := domain.BundleResult{
		Strategy:                 domain.ProtectionBundle,
		Status:                   domain.BundlePending,
		TipLamports:              tip.Lamports,
		PriorityFeeMicroLamports: tip.PriorityFeeMicroLamports,
	}
	if len(txs) == 0 {
		return res, fmt.Errorf("mev: submit bundle: no transactions")
	}

	id, err := p.client.SendBundle(ctx, BundleRequest{
		Transactions:             txs,
		TipAccount:               tipAccount,
		TipLamports:              tip.Lamports,
		PriorityFeeMicroLamports: tip.PriorityFeeMicroLamports,
	})
	if err != nil {
		res.Status = domain.BundleFailed
		res.Error = err.Error()
		p.metrics.BundleSubmitted(string(res.Status))
		return res, fmt.Errorf("mev: send bundle: %w", err)
	}
	res.BundleID = id

	p.logger.InfoContext(ctx, "bundle submitted",
		slog.String("bundle_id", id),
		slog.Int("transactions", len(txs)),
		slog.Uint64("tip_lamports", tip.Lamports),
	)

	res, err = p.await(ctx, res)
	p.metrics.BundleSubmitted(string(res.Status))
	return res, err
}

func (p *Protector) await(ctx context.Context, res domain.BundleResult) (domain.BundleResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		st, err := p.client.GetBundleStatus(waitCtx, res.BundleID)
		switch {
		case err != nil:
			p.logger.WarnContext(ctx, "bundle status poll failed",
				slog.String("bundle_id", res.BundleID),
				slog.String("error", err.Error()),
			)
		case st.Status == domain.BundleLanded:
			res.Status = domain.BundleLanded
			res.Signatures = st.Signatures
			return res, nil
		case st.Status == domain.BundleFailed:
			res.Status = domain.BundleFailed
			res.Error = st.Error
			return res, fmt.Errorf("mev: bundle %s: %w: %s", res.BundleID, ErrBundleNotLanded, st.Error)
		}

		select {
		case <-waitCtx.Done():
			res.Status = domain.BundleFailed
			if ctx.Err() != nil {
				res.Error = ctx.Err().Error()
				return res, fmt.Errorf("mev: bundle %s: %w", res.BundleID, ctx.Err())
			}
			res.Error = "confirmation timeout"
			return res, fmt.Errorf("mev: bundle %s: %w within %s", res.BundleID, ErrBundleNotLanded, p.cfg.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}
