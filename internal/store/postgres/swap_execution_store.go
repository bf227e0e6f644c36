package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

const swapExecutionColumns = `id, client_request_id, plan_id, input_asset, output_asset, input_amount,
	output_amount, trade_value_usd, signature, status, attempts, error, started_at, completed_at`

// Querier is the part of *pgxpool.Pool the journal needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SwapExecutionStore implements domain.SwapExecutionStore using PostgreSQL.
type SwapExecutionStore struct {
	pool Querier
}

// NewSwapExecutionStore creates a new SwapExecutionStore.
func NewSwapExecutionStore(pool Querier) *SwapExecutionStore {
	return &SwapExecutionStore{pool: pool}
}

// Create inserts a pending journal row.
func (s *SwapExecutionStore) Create(ctx context.Context, exec domain.SwapExecution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO swap_executions (`+swapExecutionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		exec.ID, exec.ClientRequestID, exec.PlanID, exec.InputAsset, exec.OutputAsset,
		exec.InputAmount, exec.OutputAmount, exec.TradeValueUSD, exec.Signature,
		string(exec.Status), exec.Attempts, exec.Error, exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert swap_execution %s: %w", exec.ID, err)
	}
	return nil
}

// Complete writes the terminal state of an execution together with every
// attempt the fallback chain made.
func (s *SwapExecutionStore) Complete(ctx context.Context, exec domain.SwapExecution, attempts []domain.AttemptRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE swap_executions
		SET plan_id = $2, output_amount = $3, trade_value_usd = $4, signature = $5,
			status = $6, attempts = $7, error = $8, completed_at = $9
		WHERE id = $1`,
		exec.ID, exec.PlanID, exec.OutputAmount, exec.TradeValueUSD, exec.Signature,
		string(exec.Status), exec.Attempts, exec.Error, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update swap_execution %s: %w", exec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: complete swap_execution %s: %w", exec.ID, domain.ErrNotFound)
	}

	for i, a := range attempts {
		venues := a.Venues
		if venues == nil {
			venues = []string{}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO swap_attempts (execution_id, seq, plan_id, venues, error, attempted_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (execution_id, seq) DO NOTHING`,
			exec.ID, i, a.PlanID, venues, a.Error, a.At,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert swap_attempt %s/%d: %w", exec.ID, i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit swap_execution %s: %w", exec.ID, err)
	}
	return nil
}

// GetByID returns a single journal row.
func (s *SwapExecutionStore) GetByID(ctx context.Context, id string) (domain.SwapExecution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+swapExecutionColumns+` FROM swap_executions WHERE id = $1`, id)
	exec, err := scanSwapExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SwapExecution{}, domain.ErrNotFound
		}
		return domain.SwapExecution{}, fmt.Errorf("postgres: get swap_execution %s: %w", id, err)
	}
	return exec, nil
}

// ListRecent returns executions newest first.
func (s *SwapExecutionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.SwapExecution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	since := time.Time{}
	if opts.Since != nil {
		since = *opts.Since
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+swapExecutionColumns+`
		FROM swap_executions
		WHERE started_at >= $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`, since, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list swap_executions: %w", err)
	}
	defer rows.Close()

	var list []domain.SwapExecution
	for rows.Next() {
		exec, err := scanSwapExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan swap_execution: %w", err)
		}
		list = append(list, exec)
	}
	return list, rows.Err()
}

func scanSwapExecution(row pgx.Row) (domain.SwapExecution, error) {
	var exec domain.SwapExecution
	var status string
	err := row.Scan(
		&exec.ID, &exec.ClientRequestID, &exec.PlanID, &exec.InputAsset, &exec.OutputAsset,
		&exec.InputAmount, &exec.OutputAmount, &exec.TradeValueUSD, &exec.Signature,
		&status, &exec.Attempts, &exec.Error, &exec.StartedAt, &exec.CompletedAt,
	)
	if err != nil {
		return domain.SwapExecution{}, err
	}
	exec.Status = domain.SwapStatus(status)
	return exec, nil
}

// Compile-time interface check.
var _ domain.SwapExecutionStore = (*SwapExecutionStore)(nil)
