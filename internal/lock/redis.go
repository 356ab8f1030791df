package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/conneroisu/assetmin/internal/errors"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	// Prefix is prepended to every lock name to form the Redis key.
	Prefix string
	// TTL bounds how long a crashed holder can keep a lock.
	TTL time.Duration
	// RetryInterval is the polling period of Lock while the key is taken.
	RetryInterval time.Duration
	// Global maps every name to GlobalName.
	Global bool
}

// DefaultRedisConfig returns sensible defaults for the Redis locker.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix:        "assetmin:lock:",
		TTL:           30 * time.Second,
		RetryInterval: 50 * time.Millisecond,
	}
}

// RedisLocker is a Locker shared by every process connected to the same
// Redis server. Locks are SET NX keys holding a random token with a TTL.
type RedisLocker struct {
	client redis.Cmdable
	config RedisConfig
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a Redis-backed locker. Zero config fields take the
// values of DefaultRedisConfig.
func NewRedisLocker(client redis.Cmdable, config RedisConfig) *RedisLocker {
	def := DefaultRedisConfig()
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = def.RetryInterval
	}
	return &RedisLocker{client: client, config: config}
}

// Lock implements Locker by polling SET NX until it succeeds or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, name string) (Unlock, error) {
	key := l.key(name)
	token := uuid.NewString()

	ticker := time.NewTicker(l.config.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.config.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.NewLockTimeoutError(name, ctx.Err())
			}
			return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		if ok {
			return l.unlocker(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.NewLockTimeoutError(name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TryLock implements Locker with a single SET NX attempt.
func (l *RedisLocker) TryLock(ctx context.Context, name string) (Unlock, error) {
	key := l.key(name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.config.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, errors.NewLockBusyError(name)
	}
	return l.unlocker(key, token), nil
}

func (l *RedisLocker) key(name string) string {
	if l.config.Global {
		return l.config.Prefix + GlobalName
	}
	return l.config.Prefix + name
}

func (l *RedisLocker) unlocker(key, token string) Unlock {
	var (
		once sync.Once
		err  error
	)
	return func() error {
		once.Do(func() {
			// Release must run even when the build's context was cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
			if err == redis.Nil {
				err = nil
			}
		})
		return err
	}
}
