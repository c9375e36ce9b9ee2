package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/metrics"
)

// SweeperConfig sets the period of each background sweep
type SweeperConfig struct {
	PatternInterval      time.Duration
	BreakerInterval      time.Duration
	OptimizationInterval time.Duration
}

// DefaultSweeperConfig returns the standard sweep periods
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		PatternInterval:      5 * time.Minute,
		BreakerInterval:      time.Minute,
		OptimizationInterval: 30 * time.Minute,
	}
}

// PatternSweepReport summarizes one pattern sweep
type PatternSweepReport struct {
	Evicted int
	Stats   Stats
}

// Sweeper runs the periodic maintenance of a Handler
type Sweeper struct {
	handler *Handler
	config  SweeperConfig
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper for handler
func NewSweeper(handler *Handler, config SweeperConfig) *Sweeper {
	defaults := DefaultSweeperConfig()
	if config.PatternInterval <= 0 {
		config.PatternInterval = defaults.PatternInterval
	}
	if config.BreakerInterval <= 0 {
		config.BreakerInterval = defaults.BreakerInterval
	}
	if config.OptimizationInterval <= 0 {
		config.OptimizationInterval = defaults.OptimizationInterval
	}

	return &Sweeper{
		handler: handler,
		config:  config,
		metrics: handler.metrics,
		logger:  handler.logger,
	}
}

// Start launches the sweeps. They run until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.logger.Info("Starting background sweeps",
		"pattern_interval", s.config.PatternInterval.String(),
		"breaker_interval", s.config.BreakerInterval.String(),
		"optimization_interval", s.config.OptimizationInterval.String(),
	)

	s.loop(ctx, "patterns", s.config.PatternInterval, func() { s.SweepPatterns() })
	s.loop(ctx, "breakers", s.config.BreakerInterval, func() { s.SweepBreakers() })
	s.loop(ctx, "optimization", s.config.OptimizationInterval, func() { s.OptimizeStrategies() })
}

// Stop signals every sweep to exit and waits for them
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Background sweeps stopped")
}

func (s *Sweeper) loop(ctx context.Context, name string, interval time.Duration, sweep func()) {
	stopCh := s.stopCh
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.run(name, sweep)
			}
		}
	}()
}

func (s *Sweeper) run(name string, sweep func()) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordPanic("sweeper")
			s.logger.Error("Sweep panicked", "sweep", name, "panic", r)
		}
		s.metrics.RecordSweep(name, time.Since(start))
	}()

	sweep()
}

// SweepPatterns applies ledger retention and logs the current error picture
func (s *Sweeper) SweepPatterns() PatternSweepReport {
	now := s.handler.now()
	evicted := s.handler.ledger.Prune(now)
	stats := s.handler.ledger.Stats(now)
	s.metrics.UpdateLedgerSize(stats.Total)

	s.logger.Info("Pattern analysis sweep completed",
		"evicted", evicted,
		"total", stats.Total,
		"recent", stats.Recent,
		"by_category", stats.ByCategory,
		"recovery_success_rate", stats.RecoverySuccessRate,
	)

	return PatternSweepReport{Evicted: evicted, Stats: stats}
}

// SweepBreakers moves expired open breakers to half-open
func (s *Sweeper) SweepBreakers() int {
	moved := s.handler.breakers.Sweep(s.handler.now())
	if moved > 0 {
		s.logger.Info("Circuit breaker sweep moved breakers to half-open", "count", moved)
	}
	return moved
}

// OptimizeStrategies reports the success rate of each strategy in the ledger.
// It observes only and does not change strategy selection.
func (s *Sweeper) OptimizeStrategies() map[string]float64 {
	attempts := make(map[string]int)
	successes := make(map[string]int)
	for _, record := range s.handler.ledger.Snapshot() {
		name := record.Strategy.Name
		attempts[name]++
		if record.RecoveryResult.Success {
			successes[name]++
		}
	}

	rates := make(map[string]float64, len(attempts))
	for name, n := range attempts {
		rates[name] = float64(successes[name]) / float64(n)
	}

	s.logger.Debug("Strategy optimization sweep completed", "success_rates", rates)
	return rates
}
