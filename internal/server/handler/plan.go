package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/router"
)

// PlanService builds and re-evaluates atomic swap plans.
type PlanService interface {
	BuildAtomicPlan(ctx context.Context, req domain.PlanRequest) (*domain.AtomicSwapPlan, error)
	EvaluatePlan(ctx context.Context, plan *domain.AtomicSwapPlan) (domain.PlanEvaluation, error)
}

// MonitorRegistry runs background plan monitors keyed by plan ID.
type MonitorRegistry interface {
	Start(ctx context.Context, plan *domain.AtomicSwapPlan, interval time.Duration) (*router.PlanMonitor, error)
	Stop(planID string) error
}

// PlanHandler serves the plan endpoints.
type PlanHandler struct {
	plans    PlanService
	monitors MonitorRegistry
	// base outlives any single request; monitors are bound to it.
	base            context.Context
	defaultInterval time.Duration
	logger          *slog.Logger
}

// NewPlanHandler creates a PlanHandler. Monitors started through it stop
// when base is cancelled.
func NewPlanHandler(base context.Context, plans PlanService, monitors MonitorRegistry, defaultInterval time.Duration, logger *slog.Logger) *PlanHandler {
	if defaultInterval <= 0 {
		defaultInterval = 2 * time.Second
	}
	return &PlanHandler{
		plans:           plans,
		monitors:        monitors,
		base:            base,
		defaultInterval: defaultInterval,
		logger:          logger,
	}
}

// BuildPlan aggregates liquidity and returns a primary plan with fallbacks.
// POST /api/plans
func (h *PlanHandler) BuildPlan(w http.ResponseWriter, r *http.Request) {
	var req domain.PlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := h.plans.BuildAtomicPlan(r.Context(), req)
	if err != nil {
		h.fail(w, r, "build plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// EvaluatePlan re-quotes a plan's venues and reports whether it should be
// rebuilt.
// POST /api/plans/evaluate
func (h *PlanHandler) EvaluatePlan(w http.ResponseWriter, r *http.Request) {
	var plan domain.AtomicSwapPlan
	if err := decodeJSON(r, &plan); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if plan.ID == "" || len(plan.Legs) == 0 {
		writeError(w, http.StatusBadRequest, "plan id and legs are required")
		return
	}

	eval, err := h.plans.EvaluatePlan(r.Context(), &plan)
	if err != nil {
		h.fail(w, r, "evaluate plan", err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

type monitorRequest struct {
	Plan     *domain.AtomicSwapPlan `json:"plan"`
	Interval string                 `json:"interval,omitempty"`
}

// StartMonitor begins re-evaluating a plan on an interval. Updates are
// streamed over the plan updates channel (see GET /ws).
// POST /api/plans/{id}/monitor
func (h *PlanHandler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req monitorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Plan == nil || req.Plan.ID != id {
		writeError(w, http.StatusBadRequest, "body plan id must match path")
		return
	}

	interval := h.defaultInterval
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid interval")
			return
		}
		interval = d
	}

	if _, err := h.monitors.Start(h.base, req.Plan, interval); err != nil {
		h.fail(w, r, "start monitor", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "monitoring",
		"plan_id":  id,
		"interval": interval.String(),
	})
}

// StopMonitor stops a running monitor.
// DELETE /api/plans/{id}/monitor
func (h *PlanHandler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.monitors.Stop(id); err != nil {
		h.fail(w, r, "stop monitor", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PlanHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, err.Error())
}
