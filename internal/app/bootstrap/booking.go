package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/api/router"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/booking"
	appconfig "github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/config"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/events"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/locking"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/mirror"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/observability/metrics"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/reservations"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/schedule"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

// ErrRedisRequired is returned when LOCK_BACKEND=redis but no Redis client is available.
var ErrRedisRequired = errors.New("bootstrap: redis lock backend requires REDIS_ADDR")

// Stores are the persistence backends for the booking engine.
type Stores struct {
	Reservations reservations.Repository
	Rules        schedule.Store
	Outbox       *events.OutboxStore
}

// BuildStores returns Postgres-backed stores when pool is set and in-memory ones otherwise.
// The in-memory variant has no outbox, so failed mirror tasks are only logged.
func BuildStores(pool *pgxpool.Pool, logger *logging.Logger) Stores {
	if pool == nil {
		if logger != nil {
			logger.Warn("DATABASE_URL not set; using in-memory reservation and rule stores")
		}
		return Stores{
			Reservations: reservations.NewInMemoryRepository(),
			Rules:        schedule.NewMemoryRuleStore(),
		}
	}
	return Stores{
		Reservations: reservations.NewPostgresRepository(pool),
		Rules:        schedule.NewPostgresRuleStore(pool),
		Outbox:       events.NewOutboxStore(pool),
	}
}

// BuildLocker picks the lock backend for creates.
func BuildLocker(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (locking.Locker, error) {
	if cfg == nil || !cfg.UsesRedisLock() {
		return locking.NewKeyedMutex(), nil
	}
	if redisClient == nil {
		return nil, ErrRedisRequired
	}
	return locking.NewRedisLocker(redisClient, logger, locking.WithTTL(cfg.LockTTL)), nil
}

// TargetDeps carries the clients mirror targets may use. Any of them may be nil.
type TargetDeps struct {
	AWS       *aws.Config
	PatientDB *sql.DB
	Redis     *redis.Client
}

// BuildMirrorTargets wires each downstream writer whose configuration is present.
func BuildMirrorTargets(cfg *appconfig.Config, deps TargetDeps, logger *logging.Logger) mirror.Targets {
	var targets mirror.Targets
	if cfg == nil {
		return targets
	}
	if logger == nil {
		logger = logging.Default()
	}

	if deps.PatientDB != nil {
		targets.Patients = mirror.NewPatientRecordMirror(deps.PatientDB, cfg.PatientTable)
	}
	if deps.Redis != nil {
		targets.Cache = mirror.NewRedisCacheInvalidator(deps.Redis, cfg.PatientCachePrefix)
	}
	if deps.AWS != nil {
		if table := strings.TrimSpace(cfg.ReservationMirrorTable); table != "" {
			targets.Reservations = mirror.NewDynamoReservationMirror(dynamodb.NewFromConfig(*deps.AWS), table, logger)
		}
		if queueURL := strings.TrimSpace(cfg.ReservationFeedQueueURL); queueURL != "" {
			targets.Feed = mirror.NewSQSReservationFeed(sqs.NewFromConfig(*deps.AWS), queueURL)
		}
	}
	logger.Info("mirror targets configured",
		"patients", targets.Patients != nil,
		"reservations", targets.Reservations != nil,
		"cache", targets.Cache != nil,
		"feed", targets.Feed != nil,
	)
	return targets
}

// BuildSyncer wires post-commit mirroring. Failed tasks land in outbox when it is set.
func BuildSyncer(cfg *appconfig.Config, targets mirror.Targets, outbox *events.OutboxStore, m *metrics.BookingMetrics, logger *logging.Logger) *mirror.Syncer {
	taskRouter := mirror.NewRouter(targets)
	opts := []events.DispatcherOption{
		events.WithObserver(m.ObserveMirrorTask),
	}
	if cfg != nil {
		opts = append(opts,
			events.WithTaskTimeout(cfg.MirrorTimeout),
			events.WithAsync(cfg.MirrorAsync),
		)
	}
	if outbox != nil {
		opts = append(opts, events.WithRetryQueue(outbox))
	}
	return mirror.NewSyncer(taskRouter, events.NewDispatcher(taskRouter, logger, opts...), logger)
}

// BuildBookingService assembles the engine from its parts.
func BuildBookingService(cfg *appconfig.Config, stores Stores, locker locking.Locker, syncer *mirror.Syncer, m *metrics.BookingMetrics, logger *logging.Logger) (*booking.Service, *schedule.Resolver) {
	resolver := schedule.NewResolver(stores.Rules, schedule.Defaults{
		SlotMinutes: cfg.DefaultSlotMinutes,
		Capacity:    cfg.DefaultCapacity,
	}, logger)
	var mirrors booking.MirrorSync
	if syncer != nil {
		mirrors = syncer
	}
	svc := booking.NewService(stores.Reservations, resolver, locker, mirrors, booking.Config{
		DefaultDoctorID: cfg.DefaultDoctorID,
		LockScope:       locking.ParseScope(cfg.LockScope),
		LockTimeout:     cfg.LockTimeout,
	}, m, logger)
	return svc, resolver
}

// PingChecks returns health probes for whichever backends are connected.
func PingChecks(pool *pgxpool.Pool, redisClient *redis.Client, patientDB *sql.DB) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if patientDB != nil {
		checks["patient_db"] = patientDB.PingContext
	}
	return checks
}
