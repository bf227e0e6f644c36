package domain

import "time"

// Bus channels and streams.
const (
	ChannelPlanUpdates = "swaprouter:plans"
	ChannelSwapResults = "swaprouter:swaps"
	StreamSwapJournal  = "swaprouter:journal"

	// ChannelOraclePrices carries push-oracle updates as OraclePriceData.
	ChannelOraclePrices = "swaprouter:oracle"
)

// PlanUpdate is one plan monitor tick. Plan is set only when the tick
// rebuilt the plan.
type PlanUpdate struct {
	PlanID     string          `json:"plan_id"`
	Evaluation *PlanEvaluation `json:"evaluation,omitempty"`
	Plan       *AtomicSwapPlan `json:"plan,omitempty"`
	Rebuilt    bool            `json:"rebuilt"`
	Error      string          `json:"error,omitempty"`
	At         time.Time       `json:"at"`
}

// SwapEvent is published after every terminal swap outcome.
type SwapEvent struct {
	ExecutionID string      `json:"execution_id"`
	Status      SwapStatus  `json:"status"`
	Result      *SwapResult `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	At          time.Time   `json:"at"`
}
