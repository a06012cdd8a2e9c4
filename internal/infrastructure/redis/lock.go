package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// Only the owner token may release or extend a lock.
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// DistributedLock is a single-owner lock on one key, held until Release or TTL expiry.
type DistributedLock struct {
	client   *redis.Client
	key      string
	token    string
	ttl      time.Duration
	acquired bool
}

func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    "lock:" + key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire tries once. It reports false without error when another owner holds the key.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	l.acquired = ok
	return ok, nil
}

// Extend resets the expiry to ttl if this owner still holds the lock.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.acquired {
		return domainErrors.ErrLockNotHeld
	}
	return l.runOwned(ctx, extendLockScript, ttl.Milliseconds())
}

func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	if err := l.runOwned(ctx, releaseLockScript); err != nil {
		return err
	}
	l.acquired = false
	return nil
}

// keepAlive extends the lock every third of its TTL until stop is called.
// A crashed holder still loses the lock one TTL after its last extension.
func (l *DistributedLock) keepAlive(ctx context.Context, logger zerolog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := l.Extend(ctx, l.ttl)
				if err == nil || ctx.Err() != nil {
					continue
				}
				logger.Warn().Err(err).Str("key", l.key).Msg("Failed to extend lock")
				if errors.Is(err, domainErrors.ErrLockNotHeld) {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (l *DistributedLock) runOwned(ctx context.Context, script *redis.Script, args ...any) error {
	res, err := script.Run(ctx, l.client, []string{l.key}, append([]any{l.token}, args...)...).Int64()
	if err != nil {
		return fmt.Errorf("lock script on %s: %w", l.key, err)
	}
	if res == 0 {
		return fmt.Errorf("%s: %w", l.key, domainErrors.ErrLockNotHeld)
	}
	return nil
}

// Locker hands out locks that serialise refund work across API and worker
// instances. A held lock is extended in the background, so a refund whose
// provider call outlasts the TTL stays locked until released.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewLocker(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, ttl: ttl, logger: logger}
}

// Lock takes the lock on key or fails with ErrLockAcquisitionFailed when it is
// held elsewhere. The returned func stops the extensions and releases it.
func (l *Locker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	lock := NewDistributedLock(l.client, key, l.ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrLockAcquisitionFailed, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s is held elsewhere: %w", key, domainErrors.ErrLockAcquisitionFailed)
	}

	stop := lock.keepAlive(ctx, l.logger)
	return func(ctx context.Context) error {
		stop()
		return lock.Release(ctx)
	}, nil
}
