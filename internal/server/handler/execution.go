package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// ReportLocator maps a journal row to its archived report key.
type ReportLocator func(exec domain.SwapExecution) string

// ExecutionHandler serves the swap execution journal.
type ExecutionHandler struct {
	store   domain.SwapExecutionStore
	reports domain.BlobReader
	locate  ReportLocator
	logger  *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler. reports may be nil when
// report archiving is disabled.
func NewExecutionHandler(store domain.SwapExecutionStore, reports domain.BlobReader, locate ReportLocator, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, reports: reports, locate: locate, logger: logger}
}

type listExecutionsResponse struct {
	Executions []domain.SwapExecution `json:"executions"`
}

// ListExecutions returns journal rows newest first.
// GET /api/executions?limit=50&offset=0&since=2026-01-02T15:04:05Z
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if list == nil {
		list = []domain.SwapExecution{}
	}
	writeJSON(w, http.StatusOK, listExecutionsResponse{Executions: list})
}

// GetExecution returns one journal row.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// GetReport streams the archived JSON report of an execution.
// GET /api/executions/{id}/report
func (h *ExecutionHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil || h.locate == nil {
		writeError(w, http.StatusNotFound, "report archive disabled")
		return
	}
	exec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	body, err := h.reports.Get(r.Context(), h.locate(exec))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get report failed",
			slog.String("execution_id", exec.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to fetch report")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func (h *ExecutionHandler) lookup(w http.ResponseWriter, r *http.Request) (domain.SwapExecution, bool) {
	id := pathParam(r, "id")
	exec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return domain.SwapExecution{}, false
		}
		h.logger.ErrorContext(r.Context(), "handler: get execution failed",
			slog.String("execution_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return domain.SwapExecution{}, false
	}
	return exec, true
}
