// Package metrics exposes Prometheus collectors for HTTP traffic, access
// decisions and the appointment lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	decisions    *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	provisioning *prometheus.CounterVec
	notifyFailed *prometheus.CounterVec
}

// New builds collectors on a private registry so tests can create as many
// instances as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "authz_decisions_total",
			Help:      "Access policy decisions by record type, operation and reason.",
		}, []string{"record", "operation", "reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "appointment_transitions_total",
			Help:      "Appointment state changes by target status and outcome.",
		}, []string{"status", "outcome"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "provisioning_total",
			Help:      "Account provisioning attempts by role and outcome.",
		}, []string{"role", "outcome"}),
		notifyFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered, by event.",
		}, []string{"event"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpLatency, m.decisions, m.transitions, m.provisioning, m.notifyFailed,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Metrics) ObserveDecision(record, operation, reason string) {
	m.decisions.WithLabelValues(record, operation, reason).Inc()
}

func (m *Metrics) ObserveTransition(status, outcome string) {
	m.transitions.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) ObserveProvisioning(role, outcome string) {
	m.provisioning.WithLabelValues(role, outcome).Inc()
}

func (m *Metrics) ObserveNotificationFailure(event string) {
	m.notifyFailed.WithLabelValues(event).Inc()
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.httpLatency.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
