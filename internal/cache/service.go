package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
)

// Store is the key-value backend of a Service
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Service provides namespaced JSON caching over a Store
type Service struct {
	store  Store
	config *Config
}

// Config holds cache configuration
type Config struct {
	// KeyPrefix is prepended to every key so several deployments can share a Redis
	KeyPrefix  string        `json:"key_prefix"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix:  "recovery",
		DefaultTTL: time.Hour,
	}
}

// NewService creates a new cache service
func NewService(store Store, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}

	return &Service{
		store:  store,
		config: config,
	}
}

// CacheKey generates cache keys with consistent prefixes
type CacheKey struct {
	Prefix string
	ID     string
}

// String returns the formatted cache key
func (ck CacheKey) String() string {
	return fmt.Sprintf("%s:%s", ck.Prefix, ck.ID)
}

func (s *Service) key(key CacheKey) string {
	if s.config.KeyPrefix == "" {
		return key.String()
	}
	return s.config.KeyPrefix + ":" + key.String()
}

// Set stores a value in cache with the specified TTL
func (s *Service) Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}

	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	if err := s.store.Set(ctx, s.key(key), string(data), ttl); err != nil {
		return errors.NewInternalError("failed to set cache value").WithCause(err)
	}

	return nil
}

// Get retrieves a value from cache. A miss is a not-found error.
func (s *Service) Get(ctx context.Context, key CacheKey, dest interface{}) error {
	data, err := s.store.Get(ctx, s.key(key))
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewNotFoundError("cache key")
		}
		return errors.NewInternalError("failed to get cache value").WithCause(err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}

	return nil
}

// Delete removes a value from cache
func (s *Service) Delete(ctx context.Context, key CacheKey) error {
	if _, err := s.store.Del(ctx, s.key(key)); err != nil {
		return errors.NewInternalError("failed to delete cache key").WithCause(err)
	}
	return nil
}

// Exists checks if a key exists in cache
func (s *Service) Exists(ctx context.Context, key CacheKey) (bool, error) {
	if _, err := s.store.Get(ctx, s.key(key)); err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, errors.NewInternalError("failed to check cache key existence").WithCause(err)
	}
	return true, nil
}

// TTL returns the time to live for a key
func (s *Service) TTL(ctx context.Context, key CacheKey) (time.Duration, error) {
	ttl, err := s.store.TTL(ctx, s.key(key))
	if err != nil {
		return 0, errors.NewInternalError("failed to get TTL").WithCause(err)
	}
	return ttl, nil
}

// InvalidatePrefix removes every key under prefix and reports how many went
func (s *Service) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.store.Keys(ctx, s.key(CacheKey{Prefix: prefix, ID: "*"}))
	if err != nil {
		return 0, errors.NewInternalError("failed to get keys for prefix").WithCause(err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := s.store.Del(ctx, keys...)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete keys").WithCause(err)
	}

	return int(deleted), nil
}

// Verdicts adapts a Service to the keyed, namespaced store the classifier
// memoizes advisor verdicts in
type Verdicts struct {
	service *Service
}

// NewVerdicts creates the adapter
func NewVerdicts(service *Service) *Verdicts {
	return &Verdicts{service: service}
}

// Get loads the value under namespace:key into dest. A miss reports false.
func (v *Verdicts) Get(ctx context.Context, key, namespace string, dest interface{}) (bool, error) {
	err := v.service.Get(ctx, CacheKey{Prefix: namespace, ID: key}, dest)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Set stores value under namespace:key for ttl
func (v *Verdicts) Set(ctx context.Context, key string, value interface{}, namespace string, ttl time.Duration) error {
	return v.service.Set(ctx, CacheKey{Prefix: namespace, ID: key}, value, ttl)
}

// Purge drops every entry in namespace
func (v *Verdicts) Purge(ctx context.Context, namespace string) (int, error) {
	return v.service.InvalidatePrefix(ctx, namespace)
}
