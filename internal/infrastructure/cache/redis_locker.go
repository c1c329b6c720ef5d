package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultLockPrefix    = "split:lock:"
	defaultLockTTL       = 2 * time.Minute
	defaultRetryInterval = 50 * time.Millisecond
)

// releaseScript deletes the lock only when it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements transfer.PaymentLocker with SET NX PX and a token-checked release.
// The TTL bounds how long a crashed holder can block a payment.
type RedisLocker struct {
	client        redis.UniversalClient
	keyPrefix     string
	ttl           time.Duration
	waitTimeout   time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
}

// RedisLockerConfig configures a RedisLocker
type RedisLockerConfig struct {
	KeyPrefix     string
	TTL           time.Duration
	WaitTimeout   time.Duration
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// NewRedisLocker creates a distributed locker on an existing Redis client
func NewRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	l := &RedisLocker{
		client:        client,
		keyPrefix:     cfg.KeyPrefix,
		ttl:           cfg.TTL,
		waitTimeout:   cfg.WaitTimeout,
		retryInterval: cfg.RetryInterval,
		logger:        cfg.Logger,
	}
	if l.keyPrefix == "" {
		l.keyPrefix = defaultLockPrefix
	}
	if l.ttl <= 0 {
		l.ttl = defaultLockTTL
	}
	if l.retryInterval <= 0 {
		l.retryInterval = defaultRetryInterval
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Lock polls SET NX until it wins or the wait times out
func (l *RedisLocker) Lock(ctx context.Context, key string) (transfer.UnlockFunc, error) {
	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	waitCtx := ctx
	if l.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.waitTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, redisKey, token, l.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire redis lock %s: %w", redisKey, err)
		}
		if ok {
			return l.unlockFunc(redisKey, token), nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s: %w", transfer.ErrLockNotAcquired, key, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) unlockFunc(redisKey, token string) transfer.UnlockFunc {
	return func() {
		// release must run even when the caller's context is already cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		deleted, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
		if err != nil {
			l.logger.Warn("Failed to release redis lock", zap.String("key", redisKey), zap.Error(err))
			return
		}
		if deleted == 0 {
			l.logger.Warn("Redis lock expired before release", zap.String("key", redisKey))
		}
	}
}

var _ transfer.PaymentLocker = (*RedisLocker)(nil)
