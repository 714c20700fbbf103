package locking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

const (
	defaultLockTTL      = 30 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every API instance pointed at the same Redis.
// A held key expires after TTL so a crashed holder cannot wedge bookings.
type RedisLocker struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
	logger       *logging.Logger
	tracer       trace.Tracer
}

var _ Locker = (*RedisLocker)(nil)

// RedisLockerOption customises a RedisLocker.
type RedisLockerOption func(*RedisLocker)

func WithTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithPollInterval(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

func WithKeyPrefix(prefix string) RedisLockerOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

func WithTracer(tracer trace.Tracer) RedisLockerOption {
	return func(l *RedisLocker) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

func NewRedisLocker(client redis.UniversalClient, logger *logging.Logger, opts ...RedisLockerOption) *RedisLocker {
	if client == nil {
		panic("locking: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	l := &RedisLocker{
		client:       client,
		prefix:       "lock:",
		ttl:          defaultLockTTL,
		pollInterval: defaultPollInterval,
		logger:       logger,
		tracer:       otel.Tracer("clinic.internal.locking"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Unlock, error) {
	ctx, span := l.tracer.Start(ctx, "lock.acquire", trace.WithAttributes(attribute.String("clinic.lock_key", key)))
	defer span.End()

	redisKey := l.prefix + key
	token := uuid.NewString()
	attempts := 0

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		attempts++
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("locking: acquire %s: %w", key, err)
		}
		if ok {
			span.SetAttributes(attribute.Int("clinic.lock_attempts", attempts))
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			span.RecordError(ErrLockTimeout)
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}
