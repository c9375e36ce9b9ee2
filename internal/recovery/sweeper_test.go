package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_SweepPatternsAppliesRetention(t *testing.T) {
	f := newHandlerFixture(t, func(c *Config, d *Deps) {
		c.Retention = RetentionPolicy{MaxAge: time.Hour}
	})
	sweeper := NewSweeper(f.handler, SweeperConfig{})

	f.handler.HandleError(context.Background(), ErrorInfo{Message: "connection refused"}, Context{})
	f.clock.Advance(2 * time.Hour)
	f.handler.HandleError(context.Background(), ErrorInfo{Message: "invalid payload"}, Context{})

	report := sweeper.SweepPatterns()

	assert.Equal(t, 1, report.Evicted)
	assert.Equal(t, 1, report.Stats.Total)
	assert.Equal(t, map[Category]int{CategoryValidation: 1}, report.Stats.ByCategory)
	assert.Equal(t, 1, f.handler.Ledger().Len())
}

func TestSweeper_SweepBreakers(t *testing.T) {
	f := newHandlerFixture(t, nil)
	sweeper := NewSweeper(f.handler, SweeperConfig{})

	f.handler.Breakers().GetOrCreate("payments")
	for i := 0; i < 5; i++ {
		f.handler.Breakers().OnFailure("payments")
	}
	require.Equal(t, "open", f.handler.CircuitBreakerStatus()["payments"].State)

	assert.Equal(t, 0, sweeper.SweepBreakers())

	f.clock.Advance(61 * time.Second)
	assert.Equal(t, 1, sweeper.SweepBreakers())
	assert.Equal(t, "half-open", f.handler.CircuitBreakerStatus()["payments"].State)
	assert.Equal(t, 0, sweeper.SweepBreakers())
}

func TestSweeper_OptimizeStrategies(t *testing.T) {
	f := newHandlerFixture(t, nil)
	sweeper := NewSweeper(f.handler, SweeperConfig{})

	assert.Empty(t, sweeper.OptimizeStrategies())

	f.handler.HandleError(context.Background(), ErrorInfo{Message: "connection refused"}, Context{})
	f.handler.HandleError(context.Background(), ErrorInfo{Message: "invalid payload"}, Context{})
	f.handler.HandleError(context.Background(), ErrorInfo{Message: "missing field"}, Context{})

	rates := sweeper.OptimizeStrategies()
	assert.Equal(t, map[string]float64{StrategyRetry: 1, StrategyReject: 0}, rates)
}

func TestSweeper_StartAndStop(t *testing.T) {
	f := newHandlerFixture(t, func(c *Config, d *Deps) {
		c.Retention = RetentionPolicy{MaxRecords: 1}
	})
	sweeper := NewSweeper(f.handler, SweeperConfig{
		PatternInterval:      5 * time.Millisecond,
		BreakerInterval:      5 * time.Millisecond,
		OptimizationInterval: 5 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		f.handler.HandleError(context.Background(), ErrorInfo{Message: "connection refused"}, Context{})
	}

	sweeper.Start(context.Background())
	sweeper.Start(context.Background())

	assert.Eventually(t, func() bool {
		return f.handler.Ledger().Len() == 1
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
}

func TestSweeper_StopsWithContext(t *testing.T) {
	f := newHandlerFixture(t, nil)
	sweeper := NewSweeper(f.handler, SweeperConfig{PatternInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	sweeper.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
