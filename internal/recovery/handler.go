package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/metrics"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/resilience"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/tracing"
)

// Publisher receives every completed error record
type Publisher interface {
	Publish(ctx context.Context, record ErrorRecord) error
}

// Config tunes the recovery pipeline
type Config struct {
	BreakerThreshold  int
	BreakerTimeout    time.Duration
	Retention         RetentionPolicy
	SuccessRate       float64
	AdvisorTimeout    time.Duration
	ClassificationTTL time.Duration
	Location          *time.Location
}

// DefaultConfig returns the standard pipeline settings
func DefaultConfig() Config {
	return Config{
		BreakerThreshold:  resilience.DefaultThreshold,
		BreakerTimeout:    resilience.DefaultTimeout,
		Retention:         RetentionPolicy{MaxAge: 24 * time.Hour, MaxRecords: 10000},
		SuccessRate:       DefaultSuccessRate,
		AdvisorTimeout:    5 * time.Second,
		ClassificationTTL: time.Hour,
	}
}

// Deps are the collaborators of a Handler. Every field is optional.
type Deps struct {
	Advisor   Advisor
	Cache     VerdictCache
	Limiter   *rate.Limiter
	Publisher Publisher
	Metrics   *metrics.Metrics
	Tracer    *tracing.TracingService
	Logger    *logging.Logger

	// OnBreakerChange is called after a circuit breaker changes state
	OnBreakerChange func(service string, from, to resilience.CircuitState, failureCount int)

	Now    func() time.Time
	Sleep  resilience.Sleeper
	Random func() float64
}

// Handler is the entry point for reporting failures. It owns the ledger and
// the breaker registry and is safe for concurrent use.
type Handler struct {
	ledger     *Ledger
	breakers   *resilience.Registry
	classifier *Classifier
	analyzer   *PatternAnalyzer
	selector   *StrategySelector
	executor   *RecoveryExecutor

	publisher Publisher
	metrics   *metrics.Metrics
	tracer    *tracing.TracingService
	logger    *logging.Logger
	now       func() time.Time
}

// NewHandler wires the pipeline
func NewHandler(config Config, deps Deps) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logging.GetLogger()
	}
	if deps.Tracer == nil {
		deps.Tracer, _ = tracing.NewTracingService(&tracing.Config{ServiceName: "recovery-orchestrator"})
	}

	m := deps.Metrics
	onChange := deps.OnBreakerChange
	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		Threshold: config.BreakerThreshold,
		Timeout:   config.BreakerTimeout,
		Now:       deps.Now,
		OnStateChange: func(service string, from, to resilience.CircuitState, failureCount int) {
			m.RecordBreakerTransition(service, from.String(), to.String(), int(to))
			if onChange != nil {
				onChange(service, from, to, failureCount)
			}
		},
	})

	return &Handler{
		ledger:   NewLedger(config.Retention),
		breakers: breakers,
		classifier: NewClassifier(ClassifierConfig{
			Advisor:  deps.Advisor,
			Cache:    deps.Cache,
			CacheTTL: config.ClassificationTTL,
			Timeout:  config.AdvisorTimeout,
			Limiter:  deps.Limiter,
			Metrics:  deps.Metrics,
		}),
		analyzer: NewPatternAnalyzer(deps.Now, config.Location),
		selector: NewStrategySelector(StrategySelectorConfig{
			Advisor: deps.Advisor,
			Timeout: config.AdvisorTimeout,
			Limiter: deps.Limiter,
			Metrics: deps.Metrics,
		}),
		executor: NewRecoveryExecutor(ExecutorConfig{
			Breakers:    breakers,
			Sleep:       deps.Sleep,
			Now:         deps.Now,
			SuccessRate: config.SuccessRate,
			Random:      deps.Random,
		}),
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    deps.Logger,
		now:       deps.Now,
	}
}

// HandleError classifies the failure, correlates it with history, selects and
// executes a recovery strategy, records the outcome and publishes it. It never
// panics; a broken pipeline yields a "failed" result.
func (h *Handler) HandleError(ctx context.Context, info ErrorInfo, errCtx Context, opts ...Option) (result Result) {
	id := uuid.New().String()
	timestamp := h.now().Truncate(time.Millisecond)

	ctx, span := h.tracer.StartRecoverySpan(ctx, "handle_error", id)
	defer span.End()

	stage := "classify"
	defer func() {
		if r := recover(); r != nil {
			h.metrics.RecordPanic("handler")
			err := fmt.Errorf("panic during %s: %v", stage, r)
			h.tracer.RecordError(span, err)
			result = h.failed(ctx, info, stage, err)
		}
	}()

	errCtx = errCtx.Clone()

	classification := h.classifier.Classify(ctx, info, errCtx)

	stage = "analyze"
	patterns := h.analyzer.Analyze(info, errCtx, h.ledger.Snapshot())

	stage = "select"
	strategy := h.selector.Select(ctx, classification, patterns, errCtx)

	stage = "execute"
	outcome := h.executor.Execute(ctx, strategy, info, errCtx, opts...)

	record := ErrorRecord{
		ID:              id,
		Timestamp:       timestamp,
		Error:           info,
		Context:         errCtx,
		Classification:  classification,
		PatternAnalysis: patterns,
		Strategy:        strategy,
		RecoveryResult:  outcome,
	}

	stage = "append"
	h.ledger.Append(record)
	h.metrics.UpdateLedgerSize(h.ledger.Len())

	stage = "publish"
	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, record); err != nil {
			h.tracer.RecordError(span, err)
			return h.failed(ctx, info, stage, err)
		}
	}

	span.SetAttributes(
		attribute.String("recovery.category", string(classification.Category)),
		attribute.String("recovery.strategy", strategy.Name),
		attribute.Bool("recovery.success", outcome.Success),
	)

	h.metrics.RecordErrorHandled(string(classification.Category), string(classification.Severity))
	h.metrics.RecordRecovery(strategy.Name, outcome.Success, outcome.Attempts, time.Duration(outcome.RecoveryTimeMs)*time.Millisecond)
	h.logger.LogRecoveryEvent(logging.WithService(ctx, errCtx.Service()), id,
		string(classification.Category), strategy.Name, outcome.Success,
		time.Duration(outcome.RecoveryTimeMs)*time.Millisecond,
		logrus.Fields{
			"attempts":          outcome.Attempts,
			"severity":          string(classification.Severity),
			"classifier_source": classification.Source,
		})

	return Result{
		Success:        outcome.Success,
		Data:           outcome.Data,
		Error:          outcome.Error,
		Recovery:       strategy.Name,
		Classification: classification,
	}
}

func (h *Handler) failed(ctx context.Context, info ErrorInfo, stage string, err error) Result {
	h.metrics.RecordPipelineFailure(stage)
	h.logger.LogError(ctx, err, "Error handling pipeline failed", logrus.Fields{
		"stage":         stage,
		"error_message": info.Message,
	})

	return Result{
		Success:        false,
		Error:          info.Message,
		Recovery:       RecoveryFailed,
		Classification: Classification{Category: CategoryUnknown},
	}
}

// ErrorStats summarizes the ledger
func (h *Handler) ErrorStats() Stats {
	return h.ledger.Stats(h.now())
}

// CircuitBreakerStatus returns a snapshot of every breaker keyed by service
func (h *Handler) CircuitBreakerStatus() map[string]resilience.BreakerStatus {
	return h.breakers.Status()
}

// ClearErrorHistory empties the ledger. Circuit breakers are left untouched.
func (h *Handler) ClearErrorHistory() {
	h.ledger.Clear()
	h.metrics.UpdateLedgerSize(0)
	h.logger.Info("Error history cleared")
}

// Ledger exposes the record history
func (h *Handler) Ledger() *Ledger {
	return h.ledger
}

// Breakers exposes the circuit breaker registry
func (h *Handler) Breakers() *resilience.Registry {
	return h.breakers
}
