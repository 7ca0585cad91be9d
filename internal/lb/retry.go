package lb

import (
	"context"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// AttemptFunc performs one upstream attempt and reports whether the
// response/error is retryable per spec.RetryOnCodes/RetryOn.
type AttemptFunc func(ctx context.Context, attempt int) (statusCode int, retryable bool, err error)

// Budget bounds retries as a ratio: requests counts every Allow call and
// retries counts the grants. Both counts are cumulative since NewBudget;
// there is no time window, and requests that never ask for a retry are not
// counted.
type Budget struct {
	mu          sync.Mutex
	ratio       float64
	minConcurrent int
	requests    int
	retries     int
}

func NewBudget(ratio float64, minConcurrent int) *Budget {
	return &Budget{ratio: ratio, minConcurrent: minConcurrent}
}

// Allow reports whether one more retry may be granted, and records the attempt
// either way.
func (b *Budget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++
	allowed := b.minConcurrent
	if b.requests > b.minConcurrent {
		allowed = int(float64(b.requests) * b.ratio)
	}
	if b.retries >= allowed {
		return false
	}
	b.retries++
	return true
}

// Run executes fn under spec's retry classification and budget, using
// avast/retry-go for the attempt loop and per-try timeout. It never retries
// past spec.Attempts nor past the budget, and never re-applies a terminal
// response-phase action (the caller's fn is expected to only be called for
// fresh upstream dispatches, never a cached terminal response).
func Run(ctx context.Context, spec *config.RetrySpec, budget *Budget, idempotent bool, bodyBuffered bool, fn AttemptFunc) (int, error) {
	if spec == nil || spec.Attempts <= 1 {
		status, _, err := fn(ctx, 1)
		return status, err
	}
	if spec.IdempotentOnly && !idempotent {
		status, _, err := fn(ctx, 1)
		return status, err
	}
	if spec.MaxBufferedBodyBytes > 0 && !bodyBuffered {
		status, _, err := fn(ctx, 1)
		return status, err
	}

	var lastStatus int
	attemptNum := 0
	retryErr := retry.Do(
		func() error {
			attemptNum++
			perTryCtx := ctx
			var cancel context.CancelFunc
			if spec.PerTryTimeout > 0 {
				perTryCtx, cancel = context.WithTimeout(ctx, spec.PerTryTimeout)
				defer cancel()
			}
			status, retryable, err := fn(perTryCtx, attemptNum)
			lastStatus = status
			if err == nil && !retryable {
				return nil
			}
			if !retryable {
				return retry.Unrecoverable(err)
			}
			if attemptNum > 1 && budget != nil && !budget.Allow() {
				return retry.Unrecoverable(fmt.Errorf("retry budget exhausted"))
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("retryable status %d", status)
		},
		retry.Attempts(uint(spec.Attempts)),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(10*time.Millisecond),
	)
	if retryErr != nil {
		return lastStatus, retryErr
	}
	return lastStatus, nil
}

// IsRetryableStatus reports whether code is in spec's configured retry
// codes.
func IsRetryableStatus(spec *config.RetrySpec, code int) bool {
	for _, c := range spec.RetryOnCodes {
		if c == code {
			return true
		}
	}
	return false
}
