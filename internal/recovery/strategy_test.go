package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/time/rate"
)

func withRate(freq float64) PatternAnalysis {
	return PatternAnalysis{Frequency: Frequency{Rate: freq}}
}

func TestSelectByRules(t *testing.T) {
	tests := []struct {
		name       string
		category   Category
		severity   Severity
		patterns   PatternAnalysis
		strategy   string
		maxRetries int
		delay      time.Duration
	}{
		{"network", CategoryNetwork, SeverityMedium, withRate(0), StrategyRetry, 3, 2000 * time.Millisecond},
		{"network at threshold", CategoryNetwork, SeverityMedium, withRate(5), StrategyRetry, 3, 2000 * time.Millisecond},
		{"busy network", CategoryNetwork, SeverityMedium, withRate(5.1), StrategyCircuitBreaker, 3, 2000 * time.Millisecond},
		{"rate limit", CategoryRateLimit, SeverityLow, withRate(0), StrategyExponentialBackoff, 3, 5000 * time.Millisecond},
		{"authentication", CategoryAuthentication, SeverityHigh, withRate(0), StrategyRefreshToken, 1, time.Second},
		{"validation", CategoryValidation, SeverityLow, withRate(0), StrategyReject, 0, time.Second},
		{"server", CategoryServer, SeverityHigh, withRate(3), StrategyRetry, 3, time.Second},
		{"busy server", CategoryServer, SeverityHigh, withRate(3.5), StrategyCircuitBreaker, 3, time.Second},
		{"ai", CategoryAI, SeverityMedium, withRate(0), StrategyFallbackModel, 3, time.Second},
		{"cache", CategoryCache, SeverityLow, withRate(0), StrategyBypassCache, 3, time.Second},
		{"database", CategoryDatabase, SeverityHigh, withRate(0), StrategyRetry, 3, 3000 * time.Millisecond},
		{"unknown", CategoryUnknown, SeverityMedium, withRate(0), StrategyRetry, 3, time.Second},
		{"critical clamps retries", CategoryDatabase, SeverityCritical, withRate(0), StrategyRetry, 1, 3000 * time.Millisecond},
		{"critical keeps zero", CategoryValidation, SeverityCritical, withRate(0), StrategyReject, 0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SelectByRules(Classification{Category: tt.category, Severity: tt.severity}, tt.patterns, Context{})

			assert.Equal(t, tt.strategy, s.Name)
			assert.Equal(t, tt.maxRetries, s.Parameters.MaxRetries)
			assert.Equal(t, tt.delay, s.Parameters.Delay)
			assert.Equal(t, 2.0, s.Parameters.BackoffMultiplier)
			assert.Equal(t, 30*time.Second, s.Parameters.Timeout)
			assert.Equal(t, StrategyReject, s.FallbackStrategy)
			assert.Equal(t, 0.7, s.Confidence)
			assert.Equal(t, SourceRules, s.Source)
		})
	}
}

func TestSelectByRules_LowSeverityCapsRetries(t *testing.T) {
	s := SelectByRules(Classification{Category: CategoryCache, Severity: SeverityLow}, withRate(0), Context{})
	assert.LessOrEqual(t, s.Parameters.MaxRetries, 5)
}

func TestStrategySelector_WithoutAdvisor(t *testing.T) {
	selector := NewStrategySelector(StrategySelectorConfig{})

	s := selector.Select(context.Background(), Classification{Category: CategoryValidation, Severity: SeverityLow}, withRate(0), Context{})
	assert.Equal(t, StrategyReject, s.Name)
}

func TestStrategySelector_AdvisorSuggestion(t *testing.T) {
	advisor := new(mockAdvisor)
	advisor.On("SuggestStrategy", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(Strategy{
		Name:       StrategyFallback,
		Parameters: Parameters{MaxRetries: 2, Delay: 500 * time.Millisecond},
		Confidence: 0.8,
		Reasoning:  "upstream is flapping",
	}, nil)

	selector := NewStrategySelector(StrategySelectorConfig{Advisor: advisor})
	s := selector.Select(context.Background(), Classification{Category: CategoryServer, Severity: SeverityHigh}, withRate(0), Context{})

	assert.Equal(t, StrategyFallback, s.Name)
	assert.Equal(t, StrategyReject, s.FallbackStrategy)
	assert.Equal(t, SourceAI, s.Source)
	assert.Equal(t, 500*time.Millisecond, s.Parameters.Delay)
}

func TestStrategySelector_InvalidSuggestionFallsBack(t *testing.T) {
	tests := []struct {
		name       string
		suggestion Strategy
		err        error
	}{
		{"advisor error", Strategy{}, errors.New("boom")},
		{"empty name", Strategy{Confidence: 0.5}, nil},
		{"confidence out of range", Strategy{Name: StrategyRetry, Confidence: 2}, nil},
		{"negative retries", Strategy{Name: StrategyRetry, Confidence: 0.5, Parameters: Parameters{MaxRetries: -1}}, nil},
		{"negative delay", Strategy{Name: StrategyRetry, Confidence: 0.5, Parameters: Parameters{Delay: -time.Second}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advisor := new(mockAdvisor)
			advisor.On("SuggestStrategy", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(tt.suggestion, tt.err)

			selector := NewStrategySelector(StrategySelectorConfig{Advisor: advisor})
			s := selector.Select(context.Background(), Classification{Category: CategoryRateLimit, Severity: SeverityLow}, withRate(0), Context{})

			assert.Equal(t, StrategyExponentialBackoff, s.Name)
			assert.Equal(t, SourceRules, s.Source)
		})
	}
}

func TestStrategySelector_LimiterExhausted(t *testing.T) {
	advisor := new(mockAdvisor)

	selector := NewStrategySelector(StrategySelectorConfig{Advisor: advisor, Limiter: rate.NewLimiter(0, 0)})
	s := selector.Select(context.Background(), Classification{Category: CategoryNetwork, Severity: SeverityMedium}, withRate(0), Context{})

	assert.Equal(t, StrategyRetry, s.Name)
	advisor.AssertNotCalled(t, "SuggestStrategy", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
