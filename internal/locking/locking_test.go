package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(context.Background(), m, "k", time.Second, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, m.Len(), "idle keys are dropped")
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	m := NewKeyedMutex()
	unlockA, err := m.Acquire(context.Background(), "a", time.Second)
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := m.Acquire(context.Background(), "b", 10*time.Millisecond)
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutexTimeout(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "k", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock()
	assert.Equal(t, 0, m.Len())
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	m := NewKeyedMutex()
	func() {
		defer func() { _ = recover() }()
		_ = WithLock(context.Background(), m, "k", time.Second, func(context.Context) error {
			panic("boom")
		})
	}()

	unlock, err := m.Acquire(context.Background(), "k", 20*time.Millisecond)
	require.NoError(t, err)
	unlock()
}

func TestWithLockReturnsFnError(t *testing.T) {
	m := NewKeyedMutex()
	want := errors.New("nope")
	err := WithLock(context.Background(), m, "k", time.Second, func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestScopeKeys(t *testing.T) {
	assert.Equal(t, ScopeGlobal, ParseScope(""))
	assert.Equal(t, ScopeDoctorDate, ParseScope(" Doctor_Date "))
	assert.Equal(t, "booking:global", ScopeGlobal.Key("doc-1", "2024-05-06"))
	assert.Equal(t, "booking:doctor:doc-1", ScopeDoctor.Key("doc-1", "2024-05-06"))
	assert.Equal(t, "booking:doctor:doc-1:2024-05-06", ScopeDoctorDate.Key("doc-1", "2024-05-06"))
	assert.Equal(t, "reservation:r1", ReservationKey("r1"))
}

func TestCreateKeysPerScope(t *testing.T) {
	assert.Equal(t, []string{"booking:global"}, ScopeGlobal.CreateKeys("doc-1", "2024-05-06", "09:00", "p1"))
	assert.Equal(t,
		[]string{"booking:doctor:doc-1", "booking:patient:p1", "booking:slot:2024-05-06:09:00"},
		ScopeDoctor.CreateKeys("doc-1", "2024-05-06", "09:00", "p1"))
	assert.Equal(t,
		[]string{"booking:doctor:doc-1:2024-05-06", "booking:patient:p1", "booking:slot:2024-05-06:09:00"},
		ScopeDoctorDate.CreateKeys("doc-1", "2024-05-06", "09:00", "p1"))
}

func TestWithLocksHoldsAllKeysAndReleases(t *testing.T) {
	m := NewKeyedMutex()
	err := WithLocks(context.Background(), m, []string{"b", "a", "b", ""}, time.Second, func(context.Context) error {
		assert.Equal(t, 2, m.Len())
		_, err := m.Acquire(context.Background(), "a", 10*time.Millisecond)
		assert.ErrorIs(t, err, ErrLockTimeout)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())

	want := errors.New("nope")
	err = WithLocks(context.Background(), m, []string{"a", "b"}, time.Second, func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 0, m.Len())
}

func TestWithLocksTimesOutAndReleasesPartialHold(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Acquire(context.Background(), "b", time.Second)
	require.NoError(t, err)
	defer unlock()

	err = WithLocks(context.Background(), m, []string{"a", "b"}, 20*time.Millisecond, func(context.Context) error {
		t.Fatalf("fn must not run without every lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)

	a, err := m.Acquire(context.Background(), "a", 10*time.Millisecond)
	require.NoError(t, err, "key a is released after the failed acquisition")
	a()
}

func TestWithLocksOppositeOrdersDoNotDeadlock(t *testing.T) {
	m := NewKeyedMutex()
	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		keys := []string{"x", "y"}
		if i%2 == 1 {
			keys = []string{"y", "x"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- WithLocks(context.Background(), m, keys, 2*time.Second, func(context.Context) error {
				time.Sleep(time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, nil,
		WithTTL(5*time.Second),
		WithPollInterval(5*time.Millisecond),
		WithTracer(noop.NewTracerProvider().Tracer("test")),
	), mr
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := locker.Acquire(ctx, "booking:global", time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:booking:global"))

	_, err = locker.Acquire(ctx, "booking:global", 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	assert.False(t, mr.Exists("lock:booking:global"))

	unlock2, err := locker.Acquire(ctx, "booking:global", time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	// Simulate expiry and another holder taking the key.
	require.NoError(t, mr.Set("lock:k", "someone-else"))
	unlock()

	got, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	locker, _ := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		unlock()
	}()

	unlock2, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	unlock2()
}
