package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/marshalcore/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory builds lockers and handle caches for the configured backends.
// The Redis client is created on first use and shared.
type Factory struct {
	redisConfig config.RedisConfig
	logger      *zap.Logger

	once      sync.Once
	client    *redis.Client
	clientErr error
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory and the components it builds
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithRedisClient injects an existing client instead of dialing redisConfig
func WithRedisClient(client *redis.Client) FactoryOption {
	return func(f *Factory) {
		f.once.Do(func() {
			f.client = client
		})
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig: cfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RedisClient returns the shared client, connecting and pinging on first use
func (f *Factory) RedisClient() (*redis.Client, error) {
	f.once.Do(func() {
		client := redis.NewClient(&redis.Options{
			Addr:     f.redisConfig.Addr(),
			Password: f.redisConfig.Password,
			DB:       f.redisConfig.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			f.clientErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}
		f.client = client
	})
	return f.client, f.clientErr
}

// Locker creates the per-payment locker.
// A redis backend never falls back to memory: two instances with private locks could pay twice.
func (f *Factory) Locker(cfg config.LockConfig) (transfer.PaymentLocker, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client, err := f.RedisClient()
		if err != nil {
			return nil, err
		}
		f.logger.Info("Using Redis payment locker", zap.String("key_prefix", cfg.KeyPrefix))
		return NewRedisLocker(client, RedisLockerConfig{
			KeyPrefix:   cfg.KeyPrefix,
			TTL:         cfg.TTL,
			WaitTimeout: cfg.WaitTimeout,
			Logger:      f.logger,
		}), nil
	case config.BackendMemory, "":
		f.logger.Info("Using in-process payment locker")
		return NewKeyedMutexLocker(cfg.WaitTimeout), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// HandleCache creates the recipient handle cache.
// Redis failures fall back to memory since a stale or missing handle only costs a re-registration.
func (f *Factory) HandleCache(backend string, ttl time.Duration) transfer.RecipientHandleCache {
	if backend == config.BackendRedis {
		client, err := f.RedisClient()
		if err == nil {
			return NewRedisHandleCache(client, defaultHandlePrefix, ttl)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory recipient handle cache", zap.Error(err))
	}
	return NewMemoryHandleCache(ttl)
}

// Close closes the Redis client if one was opened
func (f *Factory) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
