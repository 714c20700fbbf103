package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/booking"
	appconfig "github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/config"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/events"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/locking"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/observability/metrics"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/schedule"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

func TestBuildRedisClientDisabled(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.New("error"), true)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()
	if dead := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.New("error"), true); dead != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	if pool := ConnectPostgresPool(context.Background(), "", logging.New("error")); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
	if db := OpenPatientDB("  ", logging.New("error")); db != nil {
		t.Fatalf("expected nil patient db for empty URL")
	}
}

func TestBuildLocker(t *testing.T) {
	locker, err := BuildLocker(&appconfig.Config{LockBackend: "memory"}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &locking.KeyedMutex{}, locker)

	_, err = BuildLocker(&appconfig.Config{LockBackend: "redis"}, nil, nil)
	assert.True(t, errors.Is(err, ErrRedisRequired))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker, err = BuildLocker(&appconfig.Config{LockBackend: "redis", LockTTL: time.Second}, client, nil)
	require.NoError(t, err)
	assert.IsType(t, &locking.RedisLocker{}, locker)
}

func TestBuildMirrorTargetsOnlyConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	targets := BuildMirrorTargets(&appconfig.Config{PatientCachePrefix: "patient:"}, TargetDeps{Redis: client}, logging.New("error"))
	assert.NotNil(t, targets.Cache)
	assert.Nil(t, targets.Patients)
	assert.Nil(t, targets.Reservations)
	assert.Nil(t, targets.Feed)
}

func TestInMemoryWiringBooksAndMirrors(t *testing.T) {
	ctx := context.Background()
	cfg := &appconfig.Config{
		DefaultDoctorID:    "default",
		DefaultSlotMinutes: 30,
		DefaultCapacity:    1,
		LockScope:          "doctor_date",
		LockTimeout:        time.Second,
		MirrorTimeout:      time.Second,
		PatientCachePrefix: "patient:",
	}
	logger := logging.New("error")
	reg := prometheus.NewRegistry()
	m := metrics.NewBookingMetrics(reg)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Set("patient:p1", "stale")

	stores := BuildStores(nil, logger)
	require.Nil(t, stores.Outbox)
	require.NoError(t, stores.Rules.UpsertWeeklyRule(ctx, schedule.WeeklyRule{
		DoctorID: "default", Weekday: time.Monday, Enabled: true,
		StartTime: "09:00", EndTime: "10:00", SlotMinutes: 30, Capacity: 1,
	}))
	locker, err := BuildLocker(cfg, nil, logger)
	require.NoError(t, err)
	syncer := BuildSyncer(cfg, BuildMirrorTargets(cfg, TargetDeps{Redis: client}, logger), stores.Outbox, m, logger)
	svc, _ := BuildBookingService(cfg, stores, locker, syncer, m, logger)

	res, err := svc.CreateReservation(ctx, booking.CreateRequest{Date: "2024-05-06", Time: "09:00", PatientID: "p1"})
	require.NoError(t, err)
	require.True(t, res.OK, res.Error)
	assert.Equal(t, events.SyncSynced, res.MirrorSyncStatus)
	assert.False(t, mr.Exists("patient:p1"))

	res, err = svc.CreateReservation(ctx, booking.CreateRequest{Date: "2024-05-06", Time: "09:00", PatientID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, booking.CodeSlotFull, res.Error)

	snap := metrics.TakeSnapshot(reg)
	assert.Equal(t, int64(1), snap.MirrorTasks["cache.patient.invalidate"]["ok"])
	assert.Equal(t, int64(1), snap.Requests["create"]["slot_full"])
}

func TestPingChecks(t *testing.T) {
	assert.Empty(t, PingChecks(nil, nil, nil))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	checks := PingChecks(nil, client, nil)
	require.Contains(t, checks, "redis")
	assert.NoError(t, checks["redis"](context.Background()))
}

func TestAsyncMirrorsDoNotBlockCreate(t *testing.T) {
	ctx := context.Background()
	cfg := &appconfig.Config{
		DefaultDoctorID:    "default",
		LockTimeout:        time.Second,
		MirrorAsync:        true,
		MirrorTimeout:      time.Second,
		PatientCachePrefix: "patient:",
	}
	logger := logging.New("error")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Set("patient:p1", "stale")

	stores := BuildStores(nil, logger)
	require.NoError(t, stores.Rules.UpsertWeeklyRule(ctx, schedule.WeeklyRule{
		DoctorID: "default", Weekday: time.Monday, Enabled: true,
		StartTime: "09:00", EndTime: "10:00", SlotMinutes: 30, Capacity: 1,
	}))
	locker, err := BuildLocker(cfg, nil, logger)
	require.NoError(t, err)
	syncer := BuildSyncer(cfg, BuildMirrorTargets(cfg, TargetDeps{Redis: client}, logger), stores.Outbox, nil, logger)
	svc, _ := BuildBookingService(cfg, stores, locker, syncer, nil, logger)

	res, err := svc.CreateReservation(ctx, booking.CreateRequest{Date: "2024-05-06", Time: "09:00", PatientID: "p1"})
	require.NoError(t, err)
	require.True(t, res.OK, res.Error)
	assert.Equal(t, events.SyncQueued, res.MirrorSyncStatus)
	assert.Eventually(t, func() bool { return !mr.Exists("patient:p1") }, time.Second, 10*time.Millisecond)
}
