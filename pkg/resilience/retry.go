package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
)

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper backed by a timer
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DelaySchedule returns the wait after the failed attempt with the given
// zero-based index
type DelaySchedule func(attempt int) time.Duration

// IndexedBackoff waits base * multiplier^attempt after each failure
func IndexedBackoff(base time.Duration, multiplier float64) DelaySchedule {
	return func(attempt int) time.Duration {
		return time.Duration(float64(base) * math.Pow(multiplier, float64(attempt)))
	}
}

// MultiplicativeBackoff starts at base and multiplies the running delay by
// multiplier after every wait. The returned schedule is stateful and must be
// used for a single loop only.
func MultiplicativeBackoff(base time.Duration, multiplier float64) DelaySchedule {
	current := float64(base)
	return func(int) time.Duration {
		delay := time.Duration(current)
		current *= multiplier
		return delay
	}
}

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int
	// Schedule yields the wait between attempts
	Schedule DelaySchedule
	// Sleep performs the wait; SleepContext when nil
	Sleep Sleeper
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, delay time.Duration)
}

// RetryOutcome describes how a retry loop ended
type RetryOutcome struct {
	Result   interface{}
	Attempts int
	Err      error
}

// Retrier handles attempt loops with a configurable backoff schedule
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.Schedule == nil {
		config.Schedule = IndexedBackoff(time.Second, 2)
	}
	if config.Sleep == nil {
		config.Sleep = SleepContext
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Execute runs operation until it succeeds, MaxAttempts is reached or ctx is
// cancelled during a wait. No wait follows the final attempt.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) RetryOutcome {
	var lastErr error

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		result, err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("Operation succeeded after retry",
					"attempt", attempt+1,
					"max_attempts", r.config.MaxAttempts,
				)
			}
			return RetryOutcome{Result: result, Attempts: attempt + 1}
		}

		lastErr = err

		if attempt == r.config.MaxAttempts-1 {
			break
		}

		delay := r.config.Schedule(attempt)

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt+1,
			"max_attempts", r.config.MaxAttempts,
			"delay", delay.String(),
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		if err := r.config.Sleep(ctx, delay); err != nil {
			return RetryOutcome{Attempts: attempt + 1, Err: fmt.Errorf("retry wait interrupted: %w", err)}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no attempts permitted")
	}

	return RetryOutcome{Attempts: r.config.MaxAttempts, Err: lastErr}
}
