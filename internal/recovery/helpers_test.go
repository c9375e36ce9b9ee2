package recovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// A Tuesday
	return &fakeClock{now: time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// memoryCache stores JSON like the real cache backends
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		entries: make(map[string][]byte),
		ttls:    make(map[string]time.Duration),
	}
}

func (c *memoryCache) Get(ctx context.Context, key, namespace string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getErr != nil {
		return false, c.getErr
	}
	data, ok := c.entries[namespace+":"+key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, namespace string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.setErr != nil {
		return c.setErr
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[namespace+":"+key] = data
	c.ttls[namespace+":"+key] = ttl
	return nil
}

func (c *memoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type mockAdvisor struct {
	mock.Mock
}

func (m *mockAdvisor) Classify(ctx context.Context, info ErrorInfo, errCtx Context) (Classification, error) {
	args := m.Called(ctx, info, errCtx)
	return args.Get(0).(Classification), args.Error(1)
}

func (m *mockAdvisor) SuggestStrategy(ctx context.Context, classification Classification, patterns PatternAnalysis, errCtx Context) (Strategy, error) {
	args := m.Called(ctx, classification, patterns, errCtx)
	return args.Get(0).(Strategy), args.Error(1)
}

// always returns a fixed value from the random source
func always(v float64) func() float64 {
	return func() float64 { return v }
}

func record(clock *fakeClock, message string, errCtx Context, category Category, strategy string, success bool, recoveryMs int64) ErrorRecord {
	return ErrorRecord{
		ID:             message,
		Timestamp:      clock.Now(),
		Error:          ErrorInfo{Message: message, Name: "Error"},
		Context:        errCtx,
		Classification: Classification{Category: category},
		Strategy:       Strategy{Name: strategy},
		RecoveryResult: RecoveryResult{Success: success, Recovery: strategy, RecoveryTimeMs: recoveryMs},
	}
}
