package events

import (
	"context"
	"sync"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/metrics"
)

// ErrorHandled is the name of the event emitted for every completed record
const ErrorHandled = "errorHandled"

// DefaultBuffer is the channel capacity used when a subscriber asks for none
const DefaultBuffer = 256

// Subscription is one subscriber's view of the bus
type Subscription struct {
	name string
	ch   chan recovery.ErrorRecord
}

// Name returns the subscriber name
func (s *Subscription) Name() string {
	return s.name
}

// C delivers records in publish order. It is closed when the bus closes.
func (s *Subscription) C() <-chan recovery.ErrorRecord {
	return s.ch
}

// Bus fans errorHandled records out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the record, and the drop is logged
// and counted.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*Subscription
	closed      bool

	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewBus creates an event bus
func NewBus(m *metrics.Metrics) *Bus {
	return &Bus{
		metrics: m,
		logger:  logging.GetLogger(),
	}
}

// Subscribe registers a named subscriber with a buffer of the given size
func (b *Bus) Subscribe(name string, buffer int) (*Subscription, error) {
	if name == "" {
		return nil, errors.NewValidationError("subscriber name is required")
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.NewAppError(errors.ErrorTypeUnavailable, "BUS_CLOSED", "event bus is closed")
	}

	sub := &Subscription{name: name, ch: make(chan recovery.ErrorRecord, buffer)}
	b.subscribers = append(b.subscribers, sub)

	b.logger.Debug("Event subscriber registered", "subscriber", name, "buffer", buffer)
	return sub, nil
}

// Publish delivers record to every subscriber. It implements recovery.Publisher.
func (b *Bus) Publish(ctx context.Context, record recovery.ErrorRecord) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.NewAppError(errors.ErrorTypeUnavailable, "BUS_CLOSED", "event bus is closed")
	}

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- record:
			b.metrics.RecordEventPublished(sub.name)
		default:
			b.metrics.RecordEventDropped(sub.name)
			b.logger.Warn("Event dropped, subscriber buffer full",
				"event", ErrorHandled,
				"subscriber", sub.name,
				"record_id", record.ID,
			)
		}
	}

	return nil
}

// Close closes every subscription channel. Further publishes fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subscribers {
		close(sub.ch)
	}
}

// Handler processes one delivered record
type Handler func(ctx context.Context, record recovery.ErrorRecord) error

// Consume runs handler for every record delivered to sub until the
// subscription is closed or ctx is done. Handler errors and panics are logged
// and do not stop consumption.
func Consume(ctx context.Context, sub *Subscription, handler Handler) {
	logger := logging.GetLogger()

	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-sub.ch:
			if !ok {
				return
			}
			deliver(ctx, logger, sub.name, record, handler)
		}
	}
}

func deliver(ctx context.Context, logger *logging.Logger, name string, record recovery.ErrorRecord, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event subscriber panicked", "subscriber", name, "record_id", record.ID, "panic", r)
		}
	}()

	if err := handler(ctx, record); err != nil {
		logger.Warn("Event subscriber failed", "subscriber", name, "record_id", record.ID, "error", err.Error())
	}
}
