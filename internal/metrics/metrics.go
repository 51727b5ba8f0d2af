package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	AppointmentsBooked prometheus.Counter
	BookingConflicts   prometheus.Counter
	StatusTransitions  *prometheus.CounterVec
	WriteRetries       *prometheus.CounterVec
	Contention         *prometheus.CounterVec

	WaitlistJoins  prometheus.Counter
	WaitlistOffers *prometheus.CounterVec
	SweepDuration  prometheus.Histogram

	AuditFailures        prometheus.Counter
	NotificationFailures prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewCollector registers every metric on reg. Tests pass a fresh
// prometheus.NewRegistry so collectors never clash on the default registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)

	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		AppointmentsBooked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "booked_total",
			Help:      "Appointments successfully created.",
		}),

		BookingConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "slot_conflicts_total",
			Help:      "Bookings and reschedules rejected because the doctor was already booked.",
		}),

		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "status_transitions_total",
			Help:      "Applied appointment status transitions.",
		}, []string{"from", "to"}),

		WriteRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "version_retries_total",
			Help:      "Optimistic writes retried after a version mismatch.",
		}, []string{"entity"}),

		Contention: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "contention_total",
			Help:      "Writes abandoned after exhausting version retries.",
		}, []string{"entity"}),

		WaitlistJoins: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "waitlist",
			Name:      "joins_total",
			Help:      "Entries added to the waitlist.",
		}),

		WaitlistOffers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "waitlist",
			Name:      "offers_total",
			Help:      "Waitlist offer lifecycle events by outcome.",
		}, []string{"outcome"}),

		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "waitlist",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expired offer sweeps.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Audit entries that could not be persisted.",
		}),

		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "publish_failures_total",
			Help:      "Notification intents that could not be published.",
		}),

		gatherer: reg,
	}
}

// Handler exposes the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
