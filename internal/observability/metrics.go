package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API, dispatch, and email flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	notificationsCreatedTotal *prometheus.CounterVec
	livePushTotal             *prometheus.CounterVec
	livePushDuration          prometheus.Histogram
	presenceConnections       prometheus.Gauge
	reconciledTotal           prometheus.Counter
	emailsEnqueuedTotal       prometheus.Counter
	emailsSentTotal           prometheus.Counter
	emailsFailedTotal         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "notifications_created_total",
				Help:      "Total number of notification rows created, by source.",
			},
			[]string{"source"},
		),
		livePushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "live_push_total",
				Help:      "Total number of per-connection live push attempts by result.",
			},
			[]string{"result"},
		),
		livePushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "notify_engine",
				Name:      "live_push_duration_seconds",
				Help:      "Per-connection live push duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		presenceConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "notify_engine",
				Name:      "presence_connections",
				Help:      "Current number of registered live connections.",
			},
		),
		reconciledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "reconciled_notifications_total",
				Help:      "Total number of notifications marked delivered by reconnect reconciliation.",
			},
		),
		emailsEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "emails_enqueued_total",
				Help:      "Total number of deferred emails enqueued.",
			},
		),
		emailsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "emails_sent_total",
				Help:      "Total number of deferred emails sent successfully.",
			},
		),
		emailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_engine",
				Name:      "emails_failed_total",
				Help:      "Total number of deferred email sends that failed, by reason.",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsCreatedTotal,
		m.livePushTotal,
		m.livePushDuration,
		m.presenceConnections,
		m.reconciledTotal,
		m.emailsEnqueuedTotal,
		m.emailsSentTotal,
		m.emailsFailedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncNotificationCreated(source string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(source))
	if label == "" {
		label = "unknown"
	}
	m.notificationsCreatedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncLivePush(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.livePushTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveLivePushDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.livePushDuration.Observe(seconds)
}

// SetPresenceConnections pins the gauge to the registry's current connection
// count, so repeated registrations of one connection cannot drift it.
func (m *Metrics) SetPresenceConnections(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.presenceConnections.Set(float64(count))
}

func (m *Metrics) AddReconciled(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.reconciledTotal.Add(float64(count))
}

func (m *Metrics) IncEmailEnqueued() {
	if m == nil {
		return
	}
	m.emailsEnqueuedTotal.Inc()
}

func (m *Metrics) IncEmailSent() {
	if m == nil {
		return
	}
	m.emailsSentTotal.Inc()
}

func (m *Metrics) IncEmailFailed(reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.emailsFailedTotal.WithLabelValues(reasonLabel).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if route := c.Route(); route != nil && route.Path != "" {
		return route.Path
	}
	return c.Path()
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if e, ok := err.(*fiber.Error); ok {
			return e.Code
		}
		return fiber.StatusInternalServerError
	}
	return c.Response().StatusCode()
}
