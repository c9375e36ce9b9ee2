package recovery

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/metrics"
)

// Frequency rates above which repeated failures are routed through a breaker
const (
	networkBreakerRate = 5
	serverBreakerRate  = 3
)

// SelectByRules is the deterministic strategy path
func SelectByRules(classification Classification, patterns PatternAnalysis, errCtx Context) Strategy {
	name := StrategyRetry
	params := DefaultParameters()
	freq := patterns.Frequency.Rate

	switch classification.Category {
	case CategoryNetwork:
		if freq > networkBreakerRate {
			name = StrategyCircuitBreaker
		}
		params.Delay = 2000 * time.Millisecond
	case CategoryRateLimit:
		name = StrategyExponentialBackoff
		params.Delay = 5000 * time.Millisecond
	case CategoryAuthentication:
		name = StrategyRefreshToken
		params.MaxRetries = 1
	case CategoryValidation:
		name = StrategyReject
		params.MaxRetries = 0
	case CategoryServer:
		if freq > serverBreakerRate {
			name = StrategyCircuitBreaker
		}
	case CategoryAI:
		name = StrategyFallbackModel
	case CategoryCache:
		name = StrategyBypassCache
	case CategoryDatabase:
		params.Delay = 3000 * time.Millisecond
	}

	switch classification.Severity {
	case SeverityCritical:
		params.MaxRetries = min(params.MaxRetries, 1)
	case SeverityLow:
		params.MaxRetries = min(params.MaxRetries, 5)
	}

	return Strategy{
		Name:             name,
		Parameters:       params,
		FallbackStrategy: StrategyReject,
		Confidence:       0.7,
		Reasoning: fmt.Sprintf("Rule-based strategy for %s error with %s severity",
			classification.Category, classification.Severity),
		Source: SourceRules,
	}
}

// StrategySelectorConfig configures the optional advisor path
type StrategySelectorConfig struct {
	Advisor Advisor
	Timeout time.Duration
	Limiter *rate.Limiter
	Metrics *metrics.Metrics
}

// StrategySelector turns a classification and its patterns into a strategy
type StrategySelector struct {
	advisor Advisor
	timeout time.Duration
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewStrategySelector creates a selector
func NewStrategySelector(config StrategySelectorConfig) *StrategySelector {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	return &StrategySelector{
		advisor: config.Advisor,
		timeout: config.Timeout,
		limiter: config.Limiter,
		metrics: config.Metrics,
		logger:  logging.GetLogger(),
	}
}

// Select never fails: an unavailable or invalid suggestion yields the rule strategy
func (s *StrategySelector) Select(ctx context.Context, classification Classification, patterns PatternAnalysis, errCtx Context) Strategy {
	rules := SelectByRules(classification, patterns, errCtx)
	if s.advisor == nil {
		return rules
	}

	suggestion, err := s.consult(ctx, classification, patterns, errCtx)
	if err != nil {
		s.logger.Debug("Advisor strategy unavailable, using rules",
			"error", err.Error(),
			"strategy", rules.Name,
		)
		return rules
	}

	return suggestion
}

func (s *StrategySelector) consult(ctx context.Context, classification Classification, patterns PatternAnalysis, errCtx Context) (Strategy, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return Strategy{}, apperrors.NewRateLimitError("advisor request budget exhausted")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	suggestion, err := s.advisor.SuggestStrategy(callCtx, classification, patterns, errCtx)
	if err != nil {
		return Strategy{}, err
	}

	if err := validateStrategy(suggestion); err != nil {
		return Strategy{}, err
	}

	if suggestion.FallbackStrategy == "" {
		suggestion.FallbackStrategy = StrategyReject
	}
	suggestion.Source = SourceAI
	return suggestion, nil
}

func validateStrategy(s Strategy) error {
	if s.Name == "" {
		return apperrors.NewAdvisorError("strategy name is empty")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return apperrors.NewAdvisorError(fmt.Sprintf("confidence %v out of range", s.Confidence))
	}
	p := s.Parameters
	if p.MaxRetries < 0 || p.Delay < 0 || p.BackoffMultiplier < 0 || p.Timeout < 0 {
		return apperrors.NewAdvisorError("strategy parameters must not be negative")
	}
	return nil
}
