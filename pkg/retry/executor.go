package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// SleepFunc waits for d or until ctx is done. Injectable so tests can
// record the schedule instead of sleeping.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Executor runs operations under a retry policy. Retryability is decided
// by error classification (types.IsRetryable); the executor itself never
// retries an error it cannot classify, so side-effecting calls are
// retry-safe only when the caller wraps them as idempotent.
type Executor struct {
	policy Policy
	sleep  SleepFunc
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewExecutor creates an executor with the given policy.
func NewExecutor(policy Policy, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		policy: policy,
		sleep:  defaultSleep,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only
	}
}

// WithSleep overrides the executor's sleep function. Test hook.
func (e *Executor) WithSleep(sleep SleepFunc) *Executor {
	e.sleep = sleep
	return e
}

// Do executes op, retrying transient failures up to the policy's bound.
// Permanent failures return immediately after a single attempt. Once
// retries are exhausted the last error is wrapped in a
// TransientExhaustedError.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return &types.TransientExhaustedError{Attempts: attempt, Last: lastErr}
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				e.logger.Debug("call succeeded after retries", zap.Int("retries", attempt))
			}
			return nil
		}
		lastErr = err

		if !types.IsRetryable(err) {
			return err
		}
		if attempt >= e.policy.MaxRetries {
			return &types.TransientExhaustedError{Attempts: attempt + 1, Last: lastErr}
		}

		delay := e.jittered(e.policy.Delay(attempt, types.RetryAfterHint(err)))
		e.logger.Debug("retrying transient failure",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := e.sleep(ctx, delay); serr != nil {
			return &types.TransientExhaustedError{Attempts: attempt + 1, Last: lastErr}
		}
	}
}

// jittered adds bounded random delay on top of d. Additive so the
// schedule stays monotone; the policy cap still applies.
func (e *Executor) jittered(d time.Duration) time.Duration {
	if e.policy.Jitter <= 0 || d <= 0 {
		return d
	}
	e.mu.Lock()
	j := time.Duration(e.rng.Float64() * e.policy.Jitter * float64(d))
	e.mu.Unlock()
	out := d + j
	if e.policy.MaxDelay > 0 && out > e.policy.MaxDelay {
		out = e.policy.MaxDelay
	}
	return out
}
