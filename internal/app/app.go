// Package app assembles the stores, messaging transport and services from
// configuration. Every executable builds one App and closes it on shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/api"
	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/lock"
	"github.com/hackgods/clinic-slot-scheduling/internal/messaging"
	"github.com/hackgods/clinic-slot-scheduling/internal/messaging/rabbitmq"
	"github.com/hackgods/clinic-slot-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/saga"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

const (
	lockAttempts  = 5
	lockBaseDelay = 10 * time.Millisecond
	lruDedupeSize = 10000
)

type App struct {
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Collector

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Bus       messaging.Port
	memoryBus *messaging.MemoryBus
	amqpBus   *rabbitmq.Bus
	Deduper   messaging.Deduper

	SlotRepo        scheduling.Repository
	AppointmentRepo appointment.Repository

	Slots        *scheduling.Service
	Appointments *appointment.Service
	Handlers     *saga.Handlers
}

// New connects every configured backend. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.NewCollector(prometheus.NewRegistry()),
	}

	for _, connect := range []func(context.Context) error{
		a.connectStores,
		a.connectRedis,
		a.connectMessaging,
	} {
		if err := connect(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	var locker lock.Locker = lock.NewLocal()
	if a.Redis != nil {
		locker = redisclient.NewRedisLocker(a.Redis, cfg.LockTTL)
	}
	locker = lock.Retrying(locker, lockAttempts, lockBaseDelay)

	a.Slots = scheduling.NewService(a.SlotRepo, locker, log.Named("scheduling"))
	a.Appointments = appointment.NewService(a.AppointmentRepo, a.Slots, a.Bus, log.Named("appointment"))
	a.Slots.SetAppointmentCanceller(a.Appointments)
	a.Handlers = saga.NewHandlers(a.Appointments, a.Slots, a.Bus, log.Named("saga"))

	return a, nil
}

func (a *App) connectStores(ctx context.Context) error {
	switch a.Config.StoreDriver {
	case config.StoreMemory:
		a.SlotRepo = scheduling.NewMemoryRepository()
		a.AppointmentRepo = appointment.NewMemoryRepository()
		a.Log.Warn("using in-memory stores, data is lost on restart")
		return nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(pgCtx, a.Config.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	a.Pool = pool

	if err := db.EnsureSchema(pgCtx, pool); err != nil {
		return err
	}

	a.SlotRepo = scheduling.NewPgRepository(pool)
	a.AppointmentRepo = appointment.NewPgRepository(pool)
	a.Log.Info("connected to Postgres")
	return nil
}

func (a *App) connectRedis(ctx context.Context) error {
	if !a.Config.RedisEnabled {
		a.Deduper = messaging.NewLRUDeduper(lruDedupeSize, a.Config.DedupeTTL)
		return nil
	}

	rdb, err := redisclient.NewRedisClient(ctx, a.Config)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	a.Redis = rdb
	a.Deduper = redisclient.NewDeduper(rdb, a.Config.AMQPQueuePrefix)
	a.Log.Info("connected to Redis", zap.String("addr", a.Config.RedisAddr))
	return nil
}

func (a *App) connectMessaging(_ context.Context) error {
	var port messaging.Port

	switch a.Config.MessagingDriver {
	case config.MessagingAMQP:
		bus, err := rabbitmq.Dial(a.Config.AMQPURL, a.Config.AMQPQueuePrefix, a.Log.Named("amqp"))
		if err != nil {
			return err
		}
		a.amqpBus = bus
		port = bus
		a.Log.Info("connected to AMQP broker")
	default:
		a.memoryBus = messaging.NewMemoryBus(a.Log.Named("bus"))
		port = a.memoryBus
	}

	a.Bus = messaging.Observe(port, a.Metrics)
	return nil
}

// InProcessSaga reports whether saga handlers must run next to the API
// because events never leave the process.
func (a *App) InProcessSaga() bool {
	return a.memoryBus != nil
}

// StartSaga subscribes the saga handlers and, on the broker, starts consuming.
func (a *App) StartSaga(ctx context.Context) error {
	if err := a.Handlers.Register(a.Bus, a.Deduper, a.Config.DedupeTTL); err != nil {
		return err
	}
	if a.amqpBus != nil {
		return a.amqpBus.Start(ctx)
	}
	return nil
}

// InProcessReconciler reports whether the reconciler must run inside the
// serving process, because no other process can see the stores.
func (a *App) InProcessReconciler() bool {
	return a.Config.StoreDriver == config.StoreMemory
}

func (a *App) Reconciler() *saga.Reconciler {
	return saga.NewReconciler(a.Slots, a.Appointments, a.AppointmentRepo, a.Metrics, a.Log.Named("reconciler"))
}

// Checks lists the readiness probes of the configured backends.
func (a *App) Checks() []api.Check {
	var checks []api.Check
	if a.Pool != nil {
		checks = append(checks, api.Check{Name: "postgres", Critical: true, Ping: a.Pool.Ping})
	}
	if a.Redis != nil {
		rdb := a.Redis
		checks = append(checks, api.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return checks
}

// Close drains in-flight deliveries first so handlers still find their stores.
func (a *App) Close() {
	if a.memoryBus != nil {
		_ = a.memoryBus.Close()
	}
	if a.amqpBus != nil {
		if err := a.amqpBus.Close(); err != nil {
			a.Log.Warn("closing amqp bus", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn("closing redis", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
