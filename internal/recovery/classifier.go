package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	apperrors "github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/metrics"
)

// ClassificationNamespace is the cache namespace for memoized verdicts
const ClassificationNamespace = "classification"

// Advisor is an external text-completion service that can classify failures
// and suggest strategies
type Advisor interface {
	Classify(ctx context.Context, info ErrorInfo, errCtx Context) (Classification, error)
	SuggestStrategy(ctx context.Context, classification Classification, patterns PatternAnalysis, errCtx Context) (Strategy, error)
}

// VerdictCache is a keyed, namespaced store with expiry. Get reports false on a miss.
type VerdictCache interface {
	Get(ctx context.Context, key, namespace string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, namespace string, ttl time.Duration) error
}

type categoryRule struct {
	category Category
	keywords []string
}

// Table order breaks ties: the first matching category wins
var categoryRules = []categoryRule{
	{CategoryNetwork, []string{"network", "timeout", "connection", "econnrefused", "econnreset", "enotfound", "socket", "dns", "unreachable"}},
	{CategoryAuthentication, []string{"unauthorized", "authentication", "auth", "token", "forbidden", "credential", "401", "403"}},
	{CategoryRateLimit, []string{"rate limit", "ratelimit", "too many requests", "quota", "throttl", "429"}},
	{CategoryValidation, []string{"validation", "invalid", "required", "missing", "malformed", "bad request", "400"}},
	{CategoryServer, []string{"internal server error", "server error", "service unavailable", "bad gateway", "500", "502", "503", "504"}},
	{CategoryAI, []string{"openai", "model", "completion", "llm", "prompt", "embedding"}},
	{CategoryCache, []string{"cache", "redis", "memcache"}},
	{CategoryDatabase, []string{"database", "sql", "query", "deadlock", "postgres", "mysql", "mongo", "constraint"}},
}

var categorySeverity = map[Category]Severity{
	CategoryNetwork:        SeverityMedium,
	CategoryAuthentication: SeverityHigh,
	CategoryRateLimit:      SeverityLow,
	CategoryValidation:     SeverityLow,
	CategoryServer:         SeverityHigh,
	CategoryAI:             SeverityMedium,
	CategoryCache:          SeverityLow,
	CategoryDatabase:       SeverityHigh,
}

var categoryStrategies = map[Category][]string{
	CategoryNetwork:        {StrategyRetry, StrategyExponentialBackoff, StrategyCircuitBreaker},
	CategoryAuthentication: {StrategyRefreshToken, StrategyReject},
	CategoryRateLimit:      {StrategyExponentialBackoff, StrategyThrottle, StrategyQueue},
	CategoryValidation:     {StrategyReject},
	CategoryServer:         {StrategyRetry, StrategyCircuitBreaker, StrategyFallback},
	CategoryAI:             {StrategyFallbackModel, StrategyRetry},
	CategoryCache:          {StrategyBypassCache, StrategyRetry},
	CategoryDatabase:       {StrategyRetry, StrategyCircuitBreaker},
}

var categoryGuidance = map[Category][2]string{
	CategoryNetwork:        {"Network connectivity or transport failure", "Add timeouts and retries around remote calls"},
	CategoryAuthentication: {"Missing, expired or rejected credentials", "Refresh credentials before they expire"},
	CategoryRateLimit:      {"Upstream request quota exceeded", "Throttle outbound requests and honour retry hints"},
	CategoryValidation:     {"Request failed input validation", "Validate input before sending it"},
	CategoryServer:         {"Upstream service returned a server error", "Monitor upstream health and keep a fallback ready"},
	CategoryAI:             {"Model provider failure", "Configure an alternative model"},
	CategoryCache:          {"Cache layer unavailable or inconsistent", "Treat the cache as optional on the read path"},
	CategoryDatabase:       {"Database query or connection failure", "Review query plans and connection pool sizing"},
}

// ClassifyByRules is the deterministic classification path
func ClassifyByRules(info ErrorInfo) Classification {
	message := strings.ToLower(info.Message)
	name := strings.ToLower(info.Name)

	for _, rule := range categoryRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(message, keyword) || strings.Contains(name, keyword) {
				guidance := categoryGuidance[rule.category]
				return Classification{
					Category:            rule.category,
					Severity:            categorySeverity[rule.category],
					Recoverable:         rule.category != CategoryValidation,
					SuggestedStrategies: append([]string(nil), categoryStrategies[rule.category]...),
					Confidence:          0.7,
					Description:         fmt.Sprintf("Rule-based classification: %s error", rule.category),
					RootCause:           guidance[0],
					Prevention:          guidance[1],
					Source:              SourceRules,
				}
			}
		}
	}

	return Classification{
		Category:            CategoryUnknown,
		Severity:            SeverityMedium,
		Recoverable:         true,
		SuggestedStrategies: []string{StrategyRetry},
		Confidence:          0.3,
		Description:         "Unclassified error",
		RootCause:           "Unknown",
		Prevention:          "Add monitoring to capture more context",
		Source:              SourceRules,
	}
}

// ClassifierConfig configures the optional advisor path
type ClassifierConfig struct {
	Advisor  Advisor
	Cache    VerdictCache
	CacheTTL time.Duration
	Timeout  time.Duration
	Limiter  *rate.Limiter
	Metrics  *metrics.Metrics
}

// Classifier maps a failure to a category verdict. The advisor verdict is
// preferred when available and valid; the rule verdict is used otherwise.
type Classifier struct {
	advisor  Advisor
	cache    VerdictCache
	cacheTTL time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	inflight singleflight.Group
	logger   *logging.Logger
}

// NewClassifier creates a classifier
func NewClassifier(config ClassifierConfig) *Classifier {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}

	return &Classifier{
		advisor:  config.Advisor,
		cache:    config.Cache,
		cacheTTL: config.CacheTTL,
		timeout:  config.Timeout,
		limiter:  config.Limiter,
		metrics:  config.Metrics,
		logger:   logging.GetLogger(),
	}
}

// Classify never fails: every advisor or cache problem degrades to the rule verdict
func (c *Classifier) Classify(ctx context.Context, info ErrorInfo, errCtx Context) Classification {
	rules := ClassifyByRules(info)
	if c.advisor == nil {
		c.metrics.RecordClassification(SourceRules, string(rules.Category))
		return rules
	}

	key := ClassificationKey(info, errCtx.Service())

	if cached, ok := c.lookup(ctx, key); ok {
		cached.Source = SourceCache
		c.metrics.RecordClassification(SourceCache, string(cached.Category))
		return cached
	}

	verdict, err := c.consult(ctx, key, info, errCtx)
	if err != nil {
		c.logger.Debug("Advisor classification unavailable, using rules",
			"error", err.Error(),
			"category", string(rules.Category),
		)
		c.metrics.RecordClassification(SourceRules, string(rules.Category))
		return rules
	}

	c.store(ctx, key, verdict)
	c.metrics.RecordClassification(SourceAI, string(verdict.Category))
	return verdict
}

func (c *Classifier) consult(ctx context.Context, key string, info ErrorInfo, errCtx Context) (Classification, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return Classification{}, apperrors.NewRateLimitError("advisor request budget exhausted")
	}

	// Concurrent identical failures share one advisor call. The shared call is
	// detached from any single caller's cancellation and bounded by the timeout.
	v, err, _ := c.inflight.Do(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.advisor.Classify(callCtx, info, errCtx)
	})
	if err != nil {
		return Classification{}, err
	}

	verdict := v.(Classification)
	if err := validateClassification(verdict); err != nil {
		return Classification{}, err
	}

	verdict.SuggestedStrategies = append([]string(nil), verdict.SuggestedStrategies...)
	verdict.Source = SourceAI
	return verdict, nil
}

func (c *Classifier) lookup(ctx context.Context, key string) (Classification, bool) {
	if c.cache == nil {
		return Classification{}, false
	}

	var cached Classification
	found, err := c.cache.Get(ctx, key, ClassificationNamespace, &cached)
	if err != nil {
		c.metrics.RecordCacheOperation("get", "error")
		c.logger.Debug("Classification cache lookup failed", "error", err.Error())
		return Classification{}, false
	}
	if !found || validateClassification(cached) != nil {
		c.metrics.RecordCacheOperation("get", "miss")
		return Classification{}, false
	}

	c.metrics.RecordCacheOperation("get", "hit")
	return cached, true
}

func (c *Classifier) store(ctx context.Context, key string, verdict Classification) {
	if c.cache == nil {
		return
	}

	if err := c.cache.Set(ctx, key, verdict, ClassificationNamespace, c.cacheTTL); err != nil {
		c.metrics.RecordCacheOperation("set", "error")
		c.logger.Debug("Classification cache write failed", "error", err.Error())
		return
	}
	c.metrics.RecordCacheOperation("set", "ok")
}

// ClassificationKey is the stable cache key of a failure
func ClassificationKey(info ErrorInfo, service string) string {
	h := sha256.New()
	h.Write([]byte(info.Name))
	h.Write([]byte("|"))
	h.Write([]byte(info.Message))
	h.Write([]byte("|"))
	h.Write([]byte(service))
	return hex.EncodeToString(h.Sum(nil))
}

func validateClassification(c Classification) error {
	if !c.Category.Valid() {
		return apperrors.NewAdvisorError(fmt.Sprintf("unknown category %q", c.Category))
	}
	if !c.Severity.Valid() {
		return apperrors.NewAdvisorError(fmt.Sprintf("unknown severity %q", c.Severity))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return apperrors.NewAdvisorError(fmt.Sprintf("confidence %v out of range", c.Confidence))
	}
	return nil
}
