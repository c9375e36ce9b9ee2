// Package resilience provides the circuit breaker registry and the attempt
// loop used by the recovery executor.
//
// # Circuit Breaker Registry
//
// A Registry keeps one consecutive-failure breaker per service key. Breakers
// are created lazily and move through closed, open and half-open:
//
//	registry := resilience.NewRegistry(resilience.CircuitBreakerConfig{
//		Threshold: 5,
//		Timeout:   60 * time.Second,
//	})
//
//	cb := registry.GetOrCreate("payments")
//	switch cb.Acquire(time.Now()) {
//	case resilience.DecisionReject:
//		return errCircuitOpen
//	default:
//		if err := call(ctx); err != nil {
//			registry.OnFailure("payments")
//			return err
//		}
//		registry.OnSuccess("payments")
//	}
//
// A periodic Sweep moves expired open breakers to half-open. Only one caller
// is handed the half-open probe at a time.
//
// # Retry Loop
//
// The Retrier runs an operation up to MaxAttempts times and waits according to
// a DelaySchedule between attempts. Waits go through a Sleeper so that tests
// can substitute a fake clock, and they end early when the context is done.
//
//	retrier := resilience.NewRetrier(resilience.RetryConfig{
//		MaxAttempts: 3,
//		Schedule:    resilience.IndexedBackoff(time.Second, 2),
//	})
//	outcome := retrier.Execute(ctx, operation)
package resilience
