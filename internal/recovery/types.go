package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"go/token"
	"reflect"
	"time"

	apperrors "github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
)

// Category is a coarse failure type
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryRateLimit      Category = "rateLimit"
	CategoryValidation     Category = "validation"
	CategoryServer         Category = "server"
	CategoryAI             Category = "ai"
	CategoryCache          Category = "cache"
	CategoryDatabase       Category = "database"
	CategoryUnknown        Category = "unknown"
)

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	switch c {
	case CategoryNetwork, CategoryAuthentication, CategoryRateLimit, CategoryValidation,
		CategoryServer, CategoryAI, CategoryCache, CategoryDatabase, CategoryUnknown:
		return true
	}
	return false
}

// Severity grades the impact of a failure
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AtLeast reports whether s is as severe as threshold. Unknown severities rank
// below low.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.rank() >= threshold.rank()
}

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Recovery strategy names
const (
	StrategyRetry              = "retry"
	StrategyExponentialBackoff = "exponential_backoff"
	StrategyCircuitBreaker     = "circuit_breaker"
	StrategyFallback           = "fallback"
	StrategyQueue              = "queue"
	StrategyThrottle           = "throttle"
	StrategyReject             = "reject"
	StrategyRefreshToken       = "refresh_token"
	StrategyFallbackModel      = "fallback_model"
	StrategyBypassCache        = "bypass_cache"

	// RecoveryFailed marks a result whose handling pipeline itself broke
	RecoveryFailed = "failed"
)

// Verdict sources
const (
	SourceRules = "rules"
	SourceAI    = "ai"
	SourceCache = "cache"
)

// ErrorInfo describes the failure a caller reports
type ErrorInfo struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// FromError builds an ErrorInfo from a Go error. AppErrors contribute their
// type and code; other errors are named after their exported dynamic type, or
// "Error" when the type is unexported.
func FromError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{Name: "Error"}
	}

	info := ErrorInfo{Message: err.Error()}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		info.Name = string(appErr.Type)
		info.Code = appErr.Code
		return info
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if name := t.Name(); token.IsExported(name) {
		info.Name = name
	} else {
		info.Name = "Error"
	}
	return info
}

// Context carries caller-supplied attributes of a failure such as service,
// operation, userId and requestId
type Context map[string]interface{}

// Service returns the service key, "unknown" when absent
func (c Context) Service() string {
	if c == nil {
		return "unknown"
	}
	if s, ok := c["service"]; ok && s != nil {
		if str := fmt.Sprint(s); str != "" {
			return str
		}
	}
	return "unknown"
}

// Clone returns a shallow copy of the context
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Classification is the verdict about what kind of failure occurred
type Classification struct {
	Category            Category `json:"category"`
	Severity            Severity `json:"severity"`
	Recoverable         bool     `json:"recoverable"`
	SuggestedStrategies []string `json:"suggestedStrategies"`
	Confidence          float64  `json:"confidence"`
	Description         string   `json:"description"`
	RootCause           string   `json:"rootCause"`
	Prevention          string   `json:"prevention"`
	Source              string   `json:"source"`
}

// Frequency counts similar historical failures
type Frequency struct {
	Total  int     `json:"total"`
	Recent int     `json:"recent"`
	Rate   float64 `json:"rate"`
}

// TimePattern holds hour-of-day and day-of-week histograms of similar failures
type TimePattern struct {
	HourOfDay [24]int `json:"hourOfDay"`
	DayOfWeek [7]int  `json:"dayOfWeek"`
	PeakHour  int     `json:"peakHour"`
	PeakDay   int     `json:"peakDay"`
}

// RecoveryPattern summarizes how similar failures were recovered
type RecoveryPattern struct {
	SuccessRate         float64  `json:"successRate"`
	CommonStrategies    []string `json:"commonStrategies"`
	AverageRecoveryTime float64  `json:"averageRecoveryTime"`
}

// PatternAnalysis is the read-side summary of similar history
type PatternAnalysis struct {
	Frequency       Frequency                 `json:"frequency"`
	TimePattern     TimePattern               `json:"timePattern"`
	ContextPattern  map[string]map[string]int `json:"contextPattern"`
	RecoveryPattern RecoveryPattern           `json:"recoveryPattern"`
}

// Parameters tune a recovery strategy. Durations are encoded as milliseconds.
type Parameters struct {
	MaxRetries        int           `json:"maxRetries"`
	Delay             time.Duration `json:"delay"`
	BackoffMultiplier float64       `json:"backoffMultiplier"`
	Timeout           time.Duration `json:"timeout"`
}

type parametersJSON struct {
	MaxRetries        int     `json:"maxRetries"`
	Delay             int64   `json:"delay"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
	Timeout           int64   `json:"timeout"`
}

// MarshalJSON encodes durations as milliseconds
func (p Parameters) MarshalJSON() ([]byte, error) {
	return json.Marshal(parametersJSON{
		MaxRetries:        p.MaxRetries,
		Delay:             p.Delay.Milliseconds(),
		BackoffMultiplier: p.BackoffMultiplier,
		Timeout:           p.Timeout.Milliseconds(),
	})
}

// UnmarshalJSON decodes durations from milliseconds
func (p *Parameters) UnmarshalJSON(data []byte) error {
	var raw parametersJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.MaxRetries = raw.MaxRetries
	p.Delay = time.Duration(raw.Delay) * time.Millisecond
	p.BackoffMultiplier = raw.BackoffMultiplier
	p.Timeout = time.Duration(raw.Timeout) * time.Millisecond
	return nil
}

// DefaultParameters returns the baseline retry parameters
func DefaultParameters() Parameters {
	return Parameters{
		MaxRetries:        3,
		Delay:             1000 * time.Millisecond,
		BackoffMultiplier: 2,
		Timeout:           30000 * time.Millisecond,
	}
}

// Strategy is the chosen recovery procedure
type Strategy struct {
	Name             string     `json:"name"`
	Parameters       Parameters `json:"parameters"`
	FallbackStrategy string     `json:"fallbackStrategy"`
	Confidence       float64    `json:"confidence"`
	Reasoning        string     `json:"reasoning"`
	Source           string     `json:"source"`
}

// RecoveryResult is the outcome of executing a strategy
type RecoveryResult struct {
	Success        bool        `json:"success"`
	Data           interface{} `json:"data,omitempty"`
	Error          string      `json:"error,omitempty"`
	Recovery       string      `json:"recovery"`
	RecoveryTimeMs int64       `json:"recoveryTimeMs"`
	Attempts       int         `json:"attempts"`
}

// ErrorRecord is one immutable ledger entry
type ErrorRecord struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	Error           ErrorInfo       `json:"error"`
	Context         Context         `json:"context"`
	Classification  Classification  `json:"classification"`
	PatternAnalysis PatternAnalysis `json:"patternAnalysis"`
	Strategy        Strategy        `json:"strategy"`
	RecoveryResult  RecoveryResult  `json:"recoveryResult"`
}

// Result is what HandleError returns to callers
type Result struct {
	Success        bool           `json:"success"`
	Data           interface{}    `json:"data,omitempty"`
	Error          string         `json:"error,omitempty"`
	Recovery       string         `json:"recovery"`
	Classification Classification `json:"classification"`
}

// Stats is the diagnostic summary of the ledger
type Stats struct {
	Total               int              `json:"total"`
	Recent              int              `json:"recent"`
	ByCategory          map[Category]int `json:"byCategory"`
	RecoverySuccessRate float64          `json:"recoverySuccessRate"`
}
