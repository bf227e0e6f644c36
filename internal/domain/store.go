package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// SwapExecutionStore persists the swap execution journal.
type SwapExecutionStore interface {
	Create(ctx context.Context, exec SwapExecution) error
	Complete(ctx context.Context, exec SwapExecution, attempts []AttemptRecord) error
	GetByID(ctx context.Context, id string) (SwapExecution, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]SwapExecution, error)
}
