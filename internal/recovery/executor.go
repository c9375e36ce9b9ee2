package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/resilience"
)

// Messages reported by the executor
const (
	MsgCircuitOpen      = "Circuit breaker is open"
	MsgRejected         = "Error rejected - not recoverable"
	MsgQueued           = "Error queued for later processing"
	MsgThrottled        = "Request throttled"
	MsgSimulatedFailure = "Simulated operation failure"
)

const defaultThrottleDelay = 1000 * time.Millisecond

// Operation is the work a strategy attempts. The default operation is
// simulated and succeeds with the configured probability.
type Operation func(ctx context.Context) (interface{}, error)

// FallbackProvider supplies substitute data for the fallback strategy
type FallbackProvider func(ctx context.Context, info ErrorInfo, errCtx Context) (interface{}, error)

// Option customizes a single recovery
type Option func(*invocation)

type invocation struct {
	operation Operation
	fallback  FallbackProvider
}

// WithOperation makes retry, backoff and breaker strategies attempt op
// instead of the simulated operation
func WithOperation(op Operation) Option {
	return func(inv *invocation) {
		inv.operation = op
	}
}

// WithFallback sets the provider used by the fallback strategy
func WithFallback(provider FallbackProvider) Option {
	return func(inv *invocation) {
		inv.fallback = provider
	}
}

// ExecutorConfig configures a RecoveryExecutor
type ExecutorConfig struct {
	Breakers    *resilience.Registry
	Sleep       resilience.Sleeper
	Now         func() time.Time
	SuccessRate float64
	Random      func() float64
}

// DefaultSuccessRate is the chance the simulated operation succeeds
const DefaultSuccessRate = 0.7

// RecoveryExecutor runs a chosen strategy and reports its outcome
type RecoveryExecutor struct {
	breakers    *resilience.Registry
	sleep       resilience.Sleeper
	now         func() time.Time
	successRate float64
	random      func() float64
	logger      *logging.Logger
}

// NewRecoveryExecutor creates an executor
func NewRecoveryExecutor(config ExecutorConfig) *RecoveryExecutor {
	if config.Breakers == nil {
		config.Breakers = resilience.NewRegistry(resilience.CircuitBreakerConfig{Now: config.Now})
	}
	if config.Sleep == nil {
		config.Sleep = resilience.SleepContext
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Random == nil {
		config.Random = rand.Float64
	}
	if config.SuccessRate <= 0 {
		config.SuccessRate = DefaultSuccessRate
	}

	return &RecoveryExecutor{
		breakers:    config.Breakers,
		sleep:       config.Sleep,
		now:         config.Now,
		successRate: config.SuccessRate,
		random:      config.Random,
		logger:      logging.GetLogger(),
	}
}

// Execute runs strategy and never panics past its own boundary
func (e *RecoveryExecutor) Execute(ctx context.Context, strategy Strategy, info ErrorInfo, errCtx Context, opts ...Option) (result RecoveryResult) {
	start := e.now()

	inv := invocation{
		operation: e.simulatedOperation,
		fallback:  defaultFallback,
	}
	for _, opt := range opts {
		opt(&inv)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovery strategy panicked",
				"strategy", strategy.Name,
				"panic", fmt.Sprint(r),
			)
			result = RecoveryResult{Error: fmt.Sprint(r)}
		}
		result.Recovery = strategy.Name
		result.RecoveryTimeMs = e.now().Sub(start).Milliseconds()
	}()

	return e.dispatch(ctx, strategy, info, errCtx, inv)
}

func (e *RecoveryExecutor) dispatch(ctx context.Context, strategy Strategy, info ErrorInfo, errCtx Context, inv invocation) RecoveryResult {
	params := strategy.Parameters

	switch strategy.Name {
	case StrategyExponentialBackoff:
		multiplier := params.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		return e.attemptLoop(ctx, params.MaxRetries, resilience.MultiplicativeBackoff(params.Delay, multiplier), inv.operation)

	case StrategyCircuitBreaker:
		return e.throughBreaker(ctx, errCtx.Service(), inv.operation)

	case StrategyFallback:
		data, err := inv.fallback(ctx, info, errCtx)
		if err != nil {
			return RecoveryResult{Error: err.Error(), Attempts: 1}
		}
		return RecoveryResult{Success: true, Data: data, Attempts: 1}

	case StrategyQueue:
		return RecoveryResult{
			Success: true,
			Data: map[string]interface{}{
				"queueId": uuid.New().String(),
				"message": MsgQueued,
			},
		}

	case StrategyThrottle:
		delay := params.Delay
		if delay <= 0 {
			delay = defaultThrottleDelay
		}
		if err := e.sleep(ctx, delay); err != nil {
			return RecoveryResult{Error: err.Error()}
		}
		return RecoveryResult{
			Success:  true,
			Data:     map[string]interface{}{"message": MsgThrottled, "delayMs": delay.Milliseconds()},
			Attempts: 1,
		}

	case StrategyReject:
		return RecoveryResult{Error: MsgRejected}

	default:
		// retry and every unrecognized name
		return e.attemptLoop(ctx, params.MaxRetries, resilience.IndexedBackoff(params.Delay, 2), inv.operation)
	}
}

func (e *RecoveryExecutor) attemptLoop(ctx context.Context, maxAttempts int, schedule resilience.DelaySchedule, op Operation) RecoveryResult {
	retrier := resilience.NewRetrier(resilience.RetryConfig{
		MaxAttempts: maxAttempts,
		Schedule:    schedule,
		Sleep:       e.sleep,
	})

	outcome := retrier.Execute(ctx, op)
	if outcome.Err != nil {
		return RecoveryResult{Error: outcome.Err.Error(), Attempts: outcome.Attempts}
	}
	return RecoveryResult{Success: true, Data: outcome.Result, Attempts: outcome.Attempts}
}

func (e *RecoveryExecutor) throughBreaker(ctx context.Context, service string, op Operation) RecoveryResult {
	cb := e.breakers.GetOrCreate(service)

	if cb.Acquire(e.breakers.Now()) == resilience.DecisionReject {
		return RecoveryResult{Error: MsgCircuitOpen}
	}

	data, err := e.guarded(ctx, op)
	if err != nil {
		e.breakers.OnFailure(service)
		return RecoveryResult{Error: err.Error(), Attempts: 1}
	}

	e.breakers.OnSuccess(service)
	return RecoveryResult{Success: true, Data: data, Attempts: 1}
}

// guarded turns a panicking operation into a failure so that a held probe is
// always reported back to the breaker
func (e *RecoveryExecutor) guarded(ctx context.Context, op Operation) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

func (e *RecoveryExecutor) simulatedOperation(ctx context.Context) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.random() < e.successRate {
		return map[string]interface{}{"recovered": true}, nil
	}
	return nil, errors.New(MsgSimulatedFailure)
}

func defaultFallback(ctx context.Context, info ErrorInfo, errCtx Context) (interface{}, error) {
	return map[string]interface{}{
		"fallback": true,
		"message":  "Using fallback data",
	}, nil
}
