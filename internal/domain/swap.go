package domain

import "time"

// BreakerState is the circuit breaker's admission state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BundleStatus is the terminal or pending state of a protected bundle.
type BundleStatus string

const (
	BundlePending BundleStatus = "pending"
	BundleLanded  BundleStatus = "landed"
	BundleFailed  BundleStatus = "failed"
)

// ProtectionStrategy records how transactions were submitted.
type ProtectionStrategy string

const (
	ProtectionBundle ProtectionStrategy = "bundle"
	ProtectionDirect ProtectionStrategy = "direct"
)

// BundleResult describes a bundle submission.
type BundleResult struct {
	BundleID                 string             `json:"bundle_id"`
	Signatures               []string           `json:"signatures"`
	Strategy                 ProtectionStrategy `json:"strategy"`
	Status                   BundleStatus       `json:"status"`
	TipLamports              uint64             `json:"tip_lamports"`
	PriorityFeeMicroLamports uint64             `json:"priority_fee_micro_lamports"`
	Error                    string             `json:"error,omitempty"`
}

// SwapRequest is the executor's input. Plan, when set, is used instead of
// building one from PlanRequest.
type SwapRequest struct {
	ClientRequestID      string          `json:"client_request_id,omitempty"`
	PlanRequest          PlanRequest     `json:"plan_request"`
	Plan                 *AtomicSwapPlan `json:"plan,omitempty"`
	AllowPriceDeviation  bool            `json:"allow_price_deviation,omitempty"`
	MaxOracleDeviation   float64         `json:"max_oracle_deviation,omitempty"`
	ForceTWAP            bool            `json:"force_twap,omitempty"`
	TWAPSlices           int             `json:"twap_slices,omitempty"`
	TWAPInterval         time.Duration   `json:"twap_interval,omitempty"`
	DisableMEVProtection bool            `json:"disable_mev_protection,omitempty"`
}

// SwapMetrics summarises an execution.
type SwapMetrics struct {
	InputAmount     float64       `json:"input_amount"`
	ExpectedOutput  float64       `json:"expected_output"`
	OutputAmount    float64       `json:"output_amount"`
	OracleDeviation float64       `json:"oracle_deviation"`
	Chunks          int           `json:"chunks"`
	FallbacksUsed   int           `json:"fallbacks_used"`
	MEVProtected    bool          `json:"mev_protected"`
	Duration        time.Duration `json:"duration"`
}

// AttemptRecord is the serialisable form of one plan attempt.
type AttemptRecord struct {
	PlanID string    `json:"plan_id"`
	Venues []string  `json:"venues"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// SwapResult is what a caller receives on success, or the partial result
// carried by a TwapChunkError.
type SwapResult struct {
	ExecutionID     string             `json:"execution_id"`
	Signature       string             `json:"signature"`
	ChunkSignatures []string           `json:"chunk_signatures,omitempty"`
	Success         bool               `json:"success"`
	PlanID          string             `json:"plan_id"`
	Routes          []PlanLeg          `json:"routes"`
	Metrics         SwapMetrics        `json:"metrics"`
	TradeValueUSD   float64            `json:"trade_value_usd"`
	Attempts        []AttemptRecord    `json:"attempts,omitempty"`
	Bundle          *BundleResult      `json:"bundle,omitempty"`
	Verification    *PriceVerification `json:"verification,omitempty"`
}

// SwapStatus is the journal status of an execution.
type SwapStatus string

const (
	SwapPending SwapStatus = "pending"
	SwapFilled  SwapStatus = "filled"
	SwapPartial SwapStatus = "partial"
	SwapFailed  SwapStatus = "failed"
	SwapVetoed  SwapStatus = "vetoed"
)

// SwapExecution is one journal row.
type SwapExecution struct {
	ID              string     `json:"id"`
	ClientRequestID string     `json:"client_request_id,omitempty"`
	PlanID          string     `json:"plan_id"`
	InputAsset      string     `json:"input_asset"`
	OutputAsset     string     `json:"output_asset"`
	InputAmount     float64    `json:"input_amount"`
	OutputAmount    float64    `json:"output_amount"`
	TradeValueUSD   float64    `json:"trade_value_usd"`
	Signature       string     `json:"signature,omitempty"`
	Status          SwapStatus `json:"status"`
	Attempts        int        `json:"attempts"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
