package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateHalfOpen - circuit is half-open, a single probe is allowed
	StateHalfOpen
	// StateOpen - circuit is open, requests are rejected
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

const (
	// DefaultThreshold is the number of consecutive failures that opens a breaker
	DefaultThreshold = 5
	// DefaultTimeout is how long a breaker stays open before it may be probed
	DefaultTimeout = 60 * time.Second
)

// CircuitBreakerConfig holds configuration shared by every breaker in a registry
type CircuitBreakerConfig struct {
	// Threshold is the failure count at which a closed breaker opens
	Threshold int
	// Timeout is the period of the open state after the last failure
	Timeout time.Duration
	// OnStateChange is called after a breaker changes state, outside its lock
	OnStateChange func(service string, from, to CircuitState, failureCount int)
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// Decision is the outcome of asking a breaker whether work may run
type Decision int

const (
	// DecisionAttempt - breaker is closed, run the operation normally
	DecisionAttempt Decision = iota
	// DecisionProbe - breaker is probing, run the operation exactly once
	DecisionProbe
	// DecisionReject - breaker is open, fail fast
	DecisionReject
)

// BreakerStatus is a point-in-time snapshot of one breaker
type BreakerStatus struct {
	State           string    `json:"state"`
	FailureCount    int       `json:"failureCount"`
	LastFailureTime time.Time `json:"lastFailureTime"`
}

type transition struct {
	from, to     CircuitState
	failureCount int
}

// CircuitBreaker is the per-service consecutive-failure state machine
type CircuitBreaker struct {
	service   string
	threshold int
	timeout   time.Duration

	mutex           sync.Mutex
	state           CircuitState
	failureCount    int
	lastFailureTime time.Time
	probing         bool

	onStateChange func(service string, from, to CircuitState, failureCount int)
}

func newCircuitBreaker(service string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		service:       service,
		threshold:     config.Threshold,
		timeout:       config.Timeout,
		state:         StateClosed,
		onStateChange: config.OnStateChange,
	}
}

// Service returns the key this breaker guards
func (cb *CircuitBreaker) Service() string {
	return cb.service
}

// State returns the stored state without applying any timeout transition
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// FailureCount returns the consecutive failure count
func (cb *CircuitBreaker) FailureCount() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failureCount
}

// Status returns a consistent snapshot of the breaker
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return BreakerStatus{
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Acquire decides whether an operation may run at now. An open breaker whose
// timeout has elapsed moves to half-open and hands out a single probe; further
// callers are rejected until the probe reports back.
func (cb *CircuitBreaker) Acquire(now time.Time) Decision {
	cb.mutex.Lock()
	var tr *transition
	decision := DecisionAttempt

	switch cb.state {
	case StateOpen:
		if now.Sub(cb.lastFailureTime) > cb.timeout && !cb.probing {
			tr = cb.setState(StateHalfOpen)
			cb.probing = true
			decision = DecisionProbe
		} else {
			decision = DecisionReject
		}
	case StateHalfOpen:
		if cb.probing {
			decision = DecisionReject
		} else {
			cb.probing = true
			decision = DecisionProbe
		}
	}
	cb.mutex.Unlock()

	cb.notify(tr)
	return decision
}

// RecordSuccess closes the breaker and resets the failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	cb.failureCount = 0
	cb.probing = false
	tr := cb.setState(StateClosed)
	cb.mutex.Unlock()

	cb.notify(tr)
}

// RecordFailure counts a failure and opens the breaker at the threshold or
// when a half-open probe fails
func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.mutex.Lock()
	cb.failureCount++
	cb.lastFailureTime = now

	var tr *transition
	if cb.state == StateHalfOpen || cb.failureCount >= cb.threshold {
		tr = cb.setState(StateOpen)
	}
	cb.probing = false
	cb.mutex.Unlock()

	cb.notify(tr)
}

// halfOpenIfExpired moves an open breaker to half-open once its timeout has
// elapsed since the last failure
func (cb *CircuitBreaker) halfOpenIfExpired(now time.Time) bool {
	cb.mutex.Lock()
	var tr *transition
	if cb.state == StateOpen && now.Sub(cb.lastFailureTime) > cb.timeout {
		tr = cb.setState(StateHalfOpen)
	}
	cb.mutex.Unlock()

	cb.notify(tr)
	return tr != nil
}

// setState must be called with the mutex held
func (cb *CircuitBreaker) setState(state CircuitState) *transition {
	if cb.state == state {
		return nil
	}
	prev := cb.state
	cb.state = state
	return &transition{from: prev, to: state, failureCount: cb.failureCount}
}

func (cb *CircuitBreaker) notify(tr *transition) {
	if tr == nil {
		return
	}

	logging.GetLogger().LogBreakerTransition(cb.service, tr.from.String(), tr.to.String(), tr.failureCount)

	if cb.onStateChange != nil {
		cb.onStateChange(cb.service, tr.from, tr.to, tr.failureCount)
	}
}

// Registry manages one circuit breaker per service key. Breakers are created
// lazily and live for the lifetime of the registry.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
}

// NewRegistry creates a breaker registry, applying defaults to zero values
func NewRegistry(config CircuitBreakerConfig) *Registry {
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Now returns the registry clock
func (r *Registry) Now() time.Time {
	return r.config.Now()
}

// Get returns the breaker for service if one exists
func (r *Registry) Get(service string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cb, ok := r.breakers[service]
	return cb, ok
}

// GetOrCreate returns the existing breaker or creates one with the registry defaults
func (r *Registry) GetOrCreate(service string) *CircuitBreaker {
	if cb, ok := r.Get(service); ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double check
	if cb, ok := r.breakers[service]; ok {
		return cb
	}

	cb := newCircuitBreaker(service, r.config)
	r.breakers[service] = cb
	return cb
}

// OnSuccess closes the breaker for service if it exists
func (r *Registry) OnSuccess(service string) {
	if cb, ok := r.Get(service); ok {
		cb.RecordSuccess()
	}
}

// OnFailure records a failure for service if its breaker exists
func (r *Registry) OnFailure(service string) {
	if cb, ok := r.Get(service); ok {
		cb.RecordFailure(r.config.Now())
	}
}

// Sweep moves every expired open breaker to half-open and reports how many moved
func (r *Registry) Sweep(now time.Time) int {
	moved := 0
	for _, cb := range r.snapshot() {
		if cb.halfOpenIfExpired(now) {
			moved++
		}
	}
	return moved
}

// Status returns a snapshot of every breaker keyed by service
func (r *Registry) Status() map[string]BreakerStatus {
	breakers := r.snapshot()
	status := make(map[string]BreakerStatus, len(breakers))
	for _, cb := range breakers {
		status[cb.service] = cb.Status()
	}
	return status
}

// Services returns the known service keys in sorted order
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]string, 0, len(r.breakers))
	for service := range r.breakers {
		services = append(services, service)
	}
	sort.Strings(services)
	return services
}

func (r *Registry) snapshot() []*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	return breakers
}
