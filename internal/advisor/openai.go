package advisor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/metrics"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/tracing"
)

const (
	operationClassify = "classify"
	operationStrategy = "suggest_strategy"

	defaultModel = "gpt-4o-mini"
)

const classifySystemPrompt = `You classify software failures for an automated recovery system.
Reply with a single JSON object with these fields:
  category: one of network, authentication, rateLimit, validation, server, ai, cache, database, unknown
  severity: one of low, medium, high, critical
  recoverable: boolean
  suggestedStrategies: array of strategy names
  confidence: number between 0 and 1
  description, rootCause, prevention: short strings`

const strategySystemPrompt = `You choose recovery strategies for classified software failures.
Known strategies: retry, exponential_backoff, circuit_breaker, fallback, queue, throttle, reject.
Reply with a single JSON object with these fields:
  name: the strategy
  parameters: {maxRetries: integer, delay: milliseconds, backoffMultiplier: number, timeout: milliseconds}
  fallbackStrategy: strategy to use if this one fails
  confidence: number between 0 and 1
  reasoning: one sentence`

// Config configures the OpenAI-compatible advisor
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Client asks a chat-completion model to classify failures and suggest
// strategies. It implements recovery.Advisor.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int

	tracer  *tracing.TracingService
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// New creates an advisor client
func New(cfg Config, tracer *tracing.TracingService, m *metrics.Metrics) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.NewValidationError("advisor API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if tracer == nil {
		tracer, _ = tracing.NewTracingService(&tracing.Config{ServiceName: "recovery-orchestrator"})
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	logger := logging.GetLogger()
	logger.Info("Initializing completion advisor", "model", cfg.Model)

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		tracer:      tracer,
		metrics:     m,
		logger:      logger,
	}, nil
}

type classifyRequest struct {
	Message string           `json:"message"`
	Name    string           `json:"name"`
	Code    string           `json:"code,omitempty"`
	Context recovery.Context `json:"context"`
}

// Classify asks the model for a verdict. The caller validates it.
func (c *Client) Classify(ctx context.Context, info recovery.ErrorInfo, errCtx recovery.Context) (recovery.Classification, error) {
	prompt, err := json.Marshal(classifyRequest{
		Message: info.Message,
		Name:    info.Name,
		Code:    info.Code,
		Context: errCtx,
	})
	if err != nil {
		return recovery.Classification{}, errors.NewInternalError("failed to encode classification prompt").WithCause(err)
	}

	content, err := c.complete(ctx, operationClassify, classifySystemPrompt, string(prompt))
	if err != nil {
		return recovery.Classification{}, err
	}

	var verdict recovery.Classification
	if err := decode(content, &verdict); err != nil {
		return recovery.Classification{}, err
	}
	return verdict, nil
}

type strategyRequest struct {
	Classification recovery.Classification  `json:"classification"`
	Frequency      recovery.Frequency       `json:"frequency"`
	Recovery       recovery.RecoveryPattern `json:"recoveryPattern"`
	Context        recovery.Context         `json:"context"`
}

// SuggestStrategy asks the model for a recovery strategy. The caller validates it.
func (c *Client) SuggestStrategy(ctx context.Context, classification recovery.Classification, patterns recovery.PatternAnalysis, errCtx recovery.Context) (recovery.Strategy, error) {
	prompt, err := json.Marshal(strategyRequest{
		Classification: classification,
		Frequency:      patterns.Frequency,
		Recovery:       patterns.RecoveryPattern,
		Context:        errCtx,
	})
	if err != nil {
		return recovery.Strategy{}, errors.NewInternalError("failed to encode strategy prompt").WithCause(err)
	}

	content, err := c.complete(ctx, operationStrategy, strategySystemPrompt, string(prompt))
	if err != nil {
		return recovery.Strategy{}, err
	}

	var strategy recovery.Strategy
	if err := decode(content, &strategy); err != nil {
		return recovery.Strategy{}, err
	}
	return strategy, nil
}

func (c *Client) complete(ctx context.Context, operation, system, user string) (string, error) {
	ctx, span := c.tracer.StartAdvisorSpan(ctx, operation, c.model)
	defer span.End()

	start := time.Now()
	status := "success"
	defer func() {
		c.metrics.RecordAdvisorRequest(operation, status, time.Since(start))
	}()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature:         c.temperature,
		MaxCompletionTokens: c.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		status = "error"
		c.tracer.RecordError(span, err)
		c.logger.Warn("Completion advisor call failed", "operation", operation, "error", err.Error())

		if stderrors.Is(err, context.DeadlineExceeded) {
			return "", errors.NewTimeoutError("advisor " + operation).WithCause(err)
		}
		return "", errors.NewExternalError("advisor", "completion request failed").WithCause(err)
	}

	if len(resp.Choices) == 0 {
		status = "empty"
		return "", errors.NewAdvisorError("completion returned no choices")
	}

	span.SetAttributes(
		attribute.String("advisor.finish_reason", string(resp.Choices[0].FinishReason)),
		attribute.Int("advisor.total_tokens", resp.Usage.TotalTokens),
	)
	c.logger.Debug("Completion advisor responded",
		"operation", operation,
		"finish_reason", string(resp.Choices[0].FinishReason),
	)

	return resp.Choices[0].Message.Content, nil
}

// decode parses a JSON reply, tolerating a surrounding markdown code fence
func decode(content string, dest interface{}) error {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	if err := json.Unmarshal([]byte(content), dest); err != nil {
		return errors.NewAdvisorError(fmt.Sprintf("unparseable reply: %v", err)).WithCause(err)
	}
	return nil
}
