package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/config"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestCache(t *testing.T) (*Service, *testClock) {
	clock := &testClock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
	return NewService(NewMemoryStore(clock.Now), DefaultConfig()), clock
}

func TestCacheService_SetAndGet(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	key := CacheKey{Prefix: "test", ID: "123"}
	value := map[string]interface{}{
		"name": "test",
		"age":  30,
	}

	err := cache.Set(ctx, key, value, time.Minute)
	assert.NoError(t, err)

	var result map[string]interface{}
	err = cache.Get(ctx, key, &result)
	assert.NoError(t, err)
	assert.Equal(t, "test", result["name"])
	assert.Equal(t, float64(30), result["age"]) // JSON unmarshaling converts to float64
}

func TestCacheService_Miss(t *testing.T) {
	cache, _ := setupTestCache(t)

	var result string
	err := cache.Get(context.Background(), CacheKey{Prefix: "test", ID: "missing"}, &result)
	assert.True(t, errors.IsNotFound(err))
}

func TestCacheService_Expiry(t *testing.T) {
	cache, clock := setupTestCache(t)
	ctx := context.Background()
	key := CacheKey{Prefix: "test", ID: "expiring"}

	require.NoError(t, cache.Set(ctx, key, "value", time.Minute))

	ttl, err := cache.TTL(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	clock.Advance(time.Minute)

	exists, err := cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	ttl, err = cache.TTL(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-2), ttl)
}

func TestCacheService_DefaultTTL(t *testing.T) {
	cache, clock := setupTestCache(t)
	ctx := context.Background()
	key := CacheKey{Prefix: "test", ID: "default"}

	require.NoError(t, cache.Set(ctx, key, "value", 0))

	clock.Advance(59 * time.Minute)
	exists, err := cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	clock.Advance(time.Minute)
	exists, err = cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCacheService_Delete(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()
	key := CacheKey{Prefix: "test", ID: "delete"}

	require.NoError(t, cache.Set(ctx, key, "value", time.Minute))
	require.NoError(t, cache.Delete(ctx, key))

	exists, err := cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCacheService_InvalidatePrefix(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, CacheKey{Prefix: "classification", ID: "a"}, 1, time.Minute))
	require.NoError(t, cache.Set(ctx, CacheKey{Prefix: "classification", ID: "b"}, 2, time.Minute))
	require.NoError(t, cache.Set(ctx, CacheKey{Prefix: "other", ID: "c"}, 3, time.Minute))

	deleted, err := cache.InvalidatePrefix(ctx, "classification")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	exists, err := cache.Exists(ctx, CacheKey{Prefix: "other", ID: "c"})
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCacheKey_String(t *testing.T) {
	assert.Equal(t, "classification:abc", CacheKey{Prefix: "classification", ID: "abc"}.String())
}

func TestVerdicts_RoundTrip(t *testing.T) {
	cache, clock := setupTestCache(t)
	verdicts := NewVerdicts(cache)
	ctx := context.Background()

	var miss recovery.Classification
	found, err := verdicts.Get(ctx, "key", recovery.ClassificationNamespace, &miss)
	require.NoError(t, err)
	assert.False(t, found)

	verdict := recovery.Classification{
		Category:            recovery.CategoryServer,
		Severity:            recovery.SeverityHigh,
		Recoverable:         true,
		SuggestedStrategies: []string{recovery.StrategyFallback},
		Confidence:          0.9,
	}
	require.NoError(t, verdicts.Set(ctx, "key", verdict, recovery.ClassificationNamespace, time.Hour))

	var hit recovery.Classification
	found, err = verdicts.Get(ctx, "key", recovery.ClassificationNamespace, &hit)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, verdict, hit)

	clock.Advance(time.Hour)
	found, err = verdicts.Get(ctx, "key", recovery.ClassificationNamespace, &hit)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestVerdicts_Purge(t *testing.T) {
	cache, _ := setupTestCache(t)
	verdicts := NewVerdicts(cache)
	ctx := context.Background()

	require.NoError(t, verdicts.Set(ctx, "a", "x", recovery.ClassificationNamespace, time.Hour))
	require.NoError(t, verdicts.Set(ctx, "b", "y", recovery.ClassificationNamespace, time.Hour))

	purged, err := verdicts.Purge(ctx, recovery.ClassificationNamespace)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)
}

func TestVerdicts_ImplementsVerdictCache(t *testing.T) {
	var _ recovery.VerdictCache = NewVerdicts(nil)
}

func TestRedisClient_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}

	client, err := NewRedisClient(&config.RedisConfig{
		Host:     getEnvOrDefault("TEST_REDIS_HOST", "localhost"),
		Port:     6379,
		DB:       1, // Use different DB for tests
		PoolSize: 5,
	})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.FlushDB(ctx))
	require.NoError(t, client.Health(ctx))

	verdicts := NewVerdicts(NewService(client, DefaultConfig()))
	require.NoError(t, verdicts.Set(ctx, "key", map[string]string{"category": "network"}, "classification", time.Minute))

	var out map[string]string
	found, err := verdicts.Get(ctx, "key", "classification", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "network", out["category"])

	ttl, err := client.TTL(ctx, "recovery:classification:key")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	purged, err := verdicts.Purge(ctx, "classification")
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
