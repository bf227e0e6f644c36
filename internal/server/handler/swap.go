package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// SwapService executes swaps end to end.
type SwapService interface {
	ExecuteSwap(ctx context.Context, req domain.SwapRequest) (*domain.SwapResult, error)
}

// SwapHandler serves swap execution.
type SwapHandler struct {
	swaps  SwapService
	logger *slog.Logger
}

// NewSwapHandler creates a SwapHandler.
func NewSwapHandler(swaps SwapService, logger *slog.Logger) *SwapHandler {
	return &SwapHandler{swaps: swaps, logger: logger}
}

// swapErrorResponse carries whatever structured detail the failure has.
type swapErrorResponse struct {
	Error        string                    `json:"error"`
	RetryAt      *time.Time                `json:"retry_at,omitempty"`
	Verification *domain.PriceVerification `json:"verification,omitempty"`
	Partial      *domain.SwapResult        `json:"partial,omitempty"`
	Attempts     []attemptView             `json:"attempts,omitempty"`
}

type attemptView struct {
	PlanID string   `json:"plan_id"`
	Venues []string `json:"venues"`
	Error  string   `json:"error"`
}

// ExecuteSwap runs a swap. The request either carries a previously built
// plan or a plan_request to build one from.
// POST /api/swaps
func (h *SwapHandler) ExecuteSwap(w http.ResponseWriter, r *http.Request) {
	var req domain.SwapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.ClientRequestID == "" {
		req.ClientRequestID = key
	}

	res, err := h.swaps.ExecuteSwap(r.Context(), req)
	if err != nil {
		h.writeSwapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SwapHandler) writeSwapError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := swapErrorResponse{Error: err.Error()}

	var open *domain.CircuitOpenError
	if errors.As(err, &open) && !open.RetryAt.IsZero() {
		retryAt := open.RetryAt.UTC()
		resp.RetryAt = &retryAt
		secs := int(time.Until(retryAt).Seconds()) + 1
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	var veto *domain.OracleVetoError
	if errors.As(err, &veto) {
		v := veto.Verification
		resp.Verification = &v
	}
	var chunk *domain.TwapChunkError
	if errors.As(err, &chunk) {
		p := chunk.Partial
		resp.Partial = &p
	}
	var exec *domain.ExecutionError
	if errors.As(err, &exec) {
		for _, a := range exec.Attempts {
			resp.Attempts = append(resp.Attempts, attemptView{PlanID: a.PlanID, Venues: a.Venues, Error: a.Err.Error()})
		}
	}

	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.ErrorContext(r.Context(), "handler: execute swap failed",
			slog.String("client_request_id", r.Header.Get("Idempotency-Key")),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, resp)
}
