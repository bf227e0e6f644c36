package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrLockHeld         = errors.New("lock already held")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSource    = errors.New("invalid liquidity source")
	ErrDuplicateRequest = errors.New("duplicate request")

	ErrVenueUnavailable  = errors.New("venue unavailable")
	ErrNoLiquidity       = errors.New("no liquidity")
	ErrPlanExpired       = errors.New("plan expired")
	ErrPlanStale         = errors.New("plan stale")
	ErrOracleRejected    = errors.New("oracle rejected")
	ErrExecutionReverted = errors.New("execution reverted")
	ErrCircuitOpen       = errors.New("circuit open")
	ErrTwapChunkFailed   = errors.New("twap chunk failed")
)

// CircuitOpenError is returned when admission is denied by the breaker.
type CircuitOpenError struct {
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAt.IsZero() {
		return ErrCircuitOpen.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrCircuitOpen, e.RetryAt.UTC().Format(time.RFC3339Nano))
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// AttemptError is one failed plan attempt inside a fallback chain.
type AttemptError struct {
	PlanID string
	Venues []string
	Err    error
}

// ExecutionError is the terminal error once every candidate plan has failed.
// It unwraps to the error of the last attempt.
type ExecutionError struct {
	Attempts []AttemptError
}

func (e *ExecutionError) Error() string {
	if len(e.Attempts) == 0 {
		return "execution failed: no attempts"
	}
	parts := make([]string, 0, len(e.Attempts))
	for i, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("#%d %s: %v", i+1, a.PlanID, a.Err))
	}
	return fmt.Sprintf("execution failed after %d attempts: %s", len(e.Attempts), strings.Join(parts, "; "))
}

func (e *ExecutionError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Last returns the error of the final attempt.
func (e *ExecutionError) Last() error { return e.Unwrap() }

// TwapChunkError aborts a sliced execution. Partial holds the chunks that
// completed before the failure.
type TwapChunkError struct {
	Chunk   int
	Total   int
	Partial SwapResult
	Err     error
}

func (e *TwapChunkError) Error() string {
	return fmt.Sprintf("%s: chunk %d/%d: %v", ErrTwapChunkFailed, e.Chunk, e.Total, e.Err)
}

func (e *TwapChunkError) Unwrap() []error { return []error{ErrTwapChunkFailed, e.Err} }

// OracleVetoError carries the verification that blocked a swap.
type OracleVetoError struct {
	Verification PriceVerification
}

func (e *OracleVetoError) Error() string {
	v := e.Verification
	msg := fmt.Sprintf("%s: route price %.8g deviates %.4f%% from oracle %.8g",
		ErrOracleRejected, v.RoutePrice, v.Deviation*100, v.OraclePrice)
	if v.Warning != "" {
		msg += " (" + v.Warning + ")"
	}
	return msg
}

func (e *OracleVetoError) Unwrap() error { return ErrOracleRejected }
