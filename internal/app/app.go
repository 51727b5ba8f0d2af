// Package app wires the storage, locking and notification layers into the
// appointment store and waitlist queue shared by the binaries.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/audit"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/roster"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

type App struct {
	Store   *appointment.Store
	Queue   *waitlist.Queue
	Hub     *notify.Hub
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Clock   clock.Clock
	Metrics *metrics.Collector

	closers []func()
}

// Build connects to the configured backends. Redis is optional: without it
// locks and notifications stay inside the process.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.Collector) (*App, error) {
	a := &App{Clock: clock.System{}, Metrics: m, Hub: notify.NewHub()}

	var (
		apptRepo  appointment.Repository
		entryRepo waitlist.Repository
		auditRepo audit.Repository
		doctors   roster.Directory
	)

	switch cfg.Storage {
	case config.StoragePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.PgPool = pool
		a.closers = append(a.closers, pool.Close)

		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("connected to postgres", zap.Int("migrations_applied", applied))

		apptRepo = appointment.NewPgRepository(pool)
		entryRepo = waitlist.NewPgRepository(pool)
		auditRepo = audit.NewPgRepository(pool)
		doctors = roster.NewPgRepository(pool)
	default:
		dir, err := loadRoster(cfg.RosterFile)
		if err != nil {
			return nil, err
		}
		logger.Warn("using in-memory storage; data is lost on restart")

		apptRepo = appointment.NewMemoryRepository()
		entryRepo = waitlist.NewMemoryRepository()
		auditRepo = audit.NewMemoryRepository()
		doctors = dir
	}

	var (
		locker redisclient.Locker = redisclient.NewLocalLocker(cfg.LockWait)
		pub    notify.Publisher   = a.Hub
	)
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		})
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
		pub = notify.Fanout{a.Hub, notify.NewRedisPublisher(rdb, logger)}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set; locks are local to this process")
	}

	rec := audit.NewRecorder(auditRepo, a.Clock, logger, m)
	notifier := notify.NewNotifier(pub, logger, m)

	a.Store = appointment.NewStore(apptRepo, locker, rec, notifier, appointment.Options{
		Clock:                  a.Clock,
		Logger:                 logger,
		Metrics:                m,
		MaxWriteAttempts:       cfg.MaxWriteAttempts,
		ConfirmationRequestAge: cfg.ConfirmationRequestAge,
		ConfirmationLeadTime:   cfg.ConfirmationLeadTime,
		Location:               cfg.ClinicLocation,
	})
	a.Queue = waitlist.NewQueue(entryRepo, a.Store, doctors, locker, rec, notifier, waitlist.Options{
		Clock:            a.Clock,
		Logger:           logger,
		Metrics:          m,
		OfferWindow:      cfg.OfferWindow,
		MaxWriteAttempts: cfg.MaxWriteAttempts,
		Location:         cfg.ClinicLocation,
	})
	a.Store.OnSlotFreed(a.Queue.Matcher())

	return a, nil
}

// LogIntents writes every notification intent published in this process to
// the log until ctx is done.
func (a *App) LogIntents(ctx context.Context, logger *zap.Logger) {
	intents, cancel := a.Hub.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-intents:
			if !ok {
				return
			}
			fields := []zap.Field{
				zap.String("type", string(in.Type)),
				zap.String("clinic_id", in.ClinicID.String()),
				zap.String("patient_id", in.PatientID.String()),
			}
			if in.AppointmentID != nil {
				fields = append(fields, zap.String("appointment_id", in.AppointmentID.String()))
			}
			if in.WaitlistEntryID != nil {
				fields = append(fields, zap.String("waitlist_entry_id", in.WaitlistEntryID.String()))
			}
			logger.Info("notification intent", fields...)
		}
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func loadRoster(path string) (*roster.MemoryDirectory, error) {
	dir := roster.NewMemoryDirectory()
	if path == "" {
		return dir, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}
	var doctors []roster.Doctor
	if err := json.Unmarshal(raw, &doctors); err != nil {
		return nil, fmt.Errorf("parse roster file %s: %w", path, err)
	}
	for _, d := range doctors {
		dir.Put(d)
	}
	return dir, nil
}
