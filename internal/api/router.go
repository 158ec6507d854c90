package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/metrics"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Slots        *scheduling.Service
	Appointments *appointment.Service
	Resolver     identity.Resolver
	Metrics      *metrics.Collector
	Logger       *zap.Logger
	Checks       []Check
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	doctor := RequireCapability(identity.CapabilityDoctor)
	patient := RequireCapability(identity.CapabilityPatient)
	anyone := RequireCapability(identity.CapabilityDoctor, identity.CapabilityPatient)

	r.Route("/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.Resolver))

		r.Route("/slots", func(r chi.Router) {
			r.With(doctor).Post("/", createSlotHandler(cfg.Slots, cfg.Logger))
			r.With(anyone).Get("/", listSlotsHandler(cfg.Slots, cfg.Logger))
			r.With(anyone).Get("/{id}", getSlotHandler(cfg.Slots, cfg.Logger))
			r.With(doctor).Patch("/{id}", updateSlotHandler(cfg.Slots, cfg.Logger))
			r.With(doctor).Delete("/{id}", deleteSlotHandler(cfg.Slots, cfg.Logger))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.With(patient).Post("/", requestAppointmentHandler(cfg.Appointments, cfg.Logger))
			r.With(anyone).Get("/", listAppointmentsHandler(cfg.Appointments, cfg.Logger))
			r.With(anyone).Get("/{id}", getAppointmentHandler(cfg.Appointments, cfg.Logger))
			r.With(anyone).Patch("/{id}", updateAppointmentHandler(cfg.Appointments, cfg.Logger))
			r.With(anyone).Delete("/{id}", cancelAppointmentHandler(cfg.Appointments, cfg.Logger))
		})
	})

	return r
}
