package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/resilience"
)

// EventType identifies what an alert is about
type EventType string

const (
	EventCriticalError EventType = "critical_error"
	EventBreakerOpened EventType = "breaker_opened"
	EventBreakerClosed EventType = "breaker_closed"
	EventTest          EventType = "test"
)

const defaultSendTimeout = 10 * time.Second

// Message is a rendered alert ready for a channel
type Message struct {
	Subject  string                 `json:"subject"`
	Body     string                 `json:"body"`
	Event    EventType              `json:"event"`
	Severity recovery.Severity      `json:"severity,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ChannelHandler delivers messages to one destination
type ChannelHandler interface {
	Send(ctx context.Context, message Message) error
	Name() string
}

// Config controls which records raise alerts
type Config struct {
	MinSeverity recovery.Severity
	SendTimeout time.Duration
}

// Service fans alerts out to the registered channels
type Service struct {
	logger      *zap.Logger
	templates   *TemplateManager
	minSeverity recovery.Severity
	sendTimeout time.Duration

	mu       sync.RWMutex
	channels []ChannelHandler

	pending sync.WaitGroup
}

// NewService creates a notification service
func NewService(logger *zap.Logger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.MinSeverity.Valid() {
		cfg.MinSeverity = recovery.SeverityHigh
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	return &Service{
		logger:      logger,
		templates:   NewTemplateManager(),
		minSeverity: cfg.MinSeverity,
		sendTimeout: cfg.SendTimeout,
	}
}

// RegisterChannel adds a destination
func (s *Service) RegisterChannel(handler ChannelHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, handler)
}

// Channels returns the names of the registered destinations
func (s *Service) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		names = append(names, ch.Name())
	}
	return names
}

// HandleRecord alerts on records at or above the configured severity. It
// matches the event bus handler signature.
func (s *Service) HandleRecord(ctx context.Context, record recovery.ErrorRecord) error {
	if !record.Classification.Severity.AtLeast(s.minSeverity) {
		return nil
	}

	message, err := s.templates.RenderErrorAlert(record)
	if err != nil {
		return fmt.Errorf("failed to render error alert: %w", err)
	}
	return s.Dispatch(ctx, message)
}

// BreakerChanged alerts when a breaker opens or recovers. Delivery happens in
// the background; Wait blocks until it finishes.
func (s *Service) BreakerChanged(service string, from, to resilience.CircuitState, failureCount int) {
	var (
		message Message
		err     error
	)
	switch {
	case to == resilience.StateOpen && from != resilience.StateOpen:
		message, err = s.templates.RenderBreakerOpened(service, from, failureCount)
	case to == resilience.StateClosed && from == resilience.StateHalfOpen:
		message, err = s.templates.RenderBreakerClosed(service)
	default:
		return
	}
	if err != nil {
		s.logger.Error("Failed to render breaker alert", zap.String("service", service), zap.Error(err))
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.Dispatch(context.Background(), message); err != nil {
			s.logger.Warn("Breaker alert delivery failed", zap.String("service", service), zap.Error(err))
		}
	}()
}

// Test sends a test message to every channel
func (s *Service) Test(ctx context.Context) error {
	return s.Dispatch(ctx, Message{
		Subject: "Recovery orchestrator test notification",
		Body:    "If you receive this, the notification channel is working.",
		Event:   EventTest,
	})
}

// Dispatch sends message to every channel and joins the failures
func (s *Service) Dispatch(ctx context.Context, message Message) error {
	s.mu.RLock()
	channels := append([]ChannelHandler(nil), s.channels...)
	s.mu.RUnlock()

	var errs []error
	for _, ch := range channels {
		if err := s.send(ctx, ch, message); err != nil {
			s.logger.Error("Failed to send notification",
				zap.String("channel", ch.Name()),
				zap.String("event", string(message.Event)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) send(ctx context.Context, ch ChannelHandler, message Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	return ch.Send(ctx, message)
}

// Wait blocks until background breaker alerts have been delivered
func (s *Service) Wait() {
	s.pending.Wait()
}

// LogChannel writes alerts to the structured log
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a log channel
func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// Send logs the message
func (c *LogChannel) Send(_ context.Context, message Message) error {
	fields := []zap.Field{
		zap.String("event", string(message.Event)),
		zap.String("body", message.Body),
	}
	if message.Severity != "" {
		fields = append(fields, zap.String("severity", string(message.Severity)))
	}
	for k, v := range message.Metadata {
		fields = append(fields, zap.Any(k, v))
	}

	c.logger.Warn(message.Subject, fields...)
	return nil
}

// Name returns "log"
func (c *LogChannel) Name() string {
	return "log"
}
