package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

type RouterConfig struct {
	Appointments *appointment.Store
	Waitlist     *waitlist.Queue
	Clock        clock.Clock
	Logger       *zap.Logger
	Metrics      *metrics.Collector

	// PgPool and Redis are optional; nil dependencies are reported as disabled.
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

type handler struct {
	appts    *appointment.Store
	waitlist *waitlist.Queue
	clock    clock.Clock
	logger   *zap.Logger
	validate *validator.Validate
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	h := &handler{
		appts:    cfg.Appointments,
		waitlist: cfg.Waitlist,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.createAppointment)
		r.Get("/", h.listAppointments)
		r.Get("/{id}", h.getAppointment)
		r.Post("/{id}/status", h.changeStatus)
		r.Post("/{id}/reschedule", h.reschedule)
		r.Post("/{id}/confirmation-request", h.requestConfirmation)
	})
	r.Get("/reports/monthly", h.monthlyReport)

	// Waitlist endpoints
	r.Route("/waitlist", func(r chi.Router) {
		r.Post("/", h.joinWaitlist)
		r.Get("/", h.listWaitlist)
		r.Post("/sweep", h.sweepWaitlist)
		r.Get("/{id}", h.getWaitlistEntry)
		r.Post("/{id}/response", h.respondToOffer)
		r.Delete("/{id}", h.removeWaitlistEntry)
	})

	return r
}
