package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marshalcore/backend/internal/domain/transfer"
)

// KeyedMutexLocker serializes work per payment reference inside one process.
// It is correct only for single-instance deployments; use RedisLocker otherwise.
type KeyedMutexLocker struct {
	mu          sync.Mutex
	locks       map[string]*keyedLock
	waitTimeout time.Duration
}

type keyedLock struct {
	// a one-slot semaphore lets waiters give up on context cancellation
	sem  chan struct{}
	refs int
}

// NewKeyedMutexLocker creates an in-process locker.
// waitTimeout bounds how long Lock waits; zero waits until ctx is done.
func NewKeyedMutexLocker(waitTimeout time.Duration) *KeyedMutexLocker {
	return &KeyedMutexLocker{
		locks:       make(map[string]*keyedLock),
		waitTimeout: waitTimeout,
	}
}

// Lock blocks until the lock for key is free or the wait times out
func (l *KeyedMutexLocker) Lock(ctx context.Context, key string) (transfer.UnlockFunc, error) {
	kl := l.acquireRef(key)

	waitCtx := ctx
	if l.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.waitTimeout)
		defer cancel()
	}

	select {
	case kl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.sem
				l.releaseRef(key, kl)
			})
		}, nil
	case <-waitCtx.Done():
		l.releaseRef(key, kl)
		return nil, fmt.Errorf("%w: %s: %w", transfer.ErrLockNotAcquired, key, waitCtx.Err())
	}
}

func (l *KeyedMutexLocker) acquireRef(key string) *keyedLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyedMutexLocker) releaseRef(key string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Size returns the number of keys currently held or waited on (for testing/monitoring)
func (l *KeyedMutexLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var _ transfer.PaymentLocker = (*KeyedMutexLocker)(nil)
