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

const namespace = "notification_engine"

// Metrics stores Prometheus collectors used by the API, the delivery engine
// and the background sweeps.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	notificationsTotal    *prometheus.CounterVec
	operationDuration     *prometheus.HistogramVec
	payloadBytes          *prometheus.HistogramVec
	breakerState          *prometheus.GaugeVec
	breakerTransitions    *prometheus.CounterVec
	rateLimitRejections   prometheus.Counter
	rateLimitErrors       prometheus.Counter
	retrySweepOutcomes    *prometheus.CounterVec
	cleanupDeletedTotal   prometheus.Counter
	dispatchMessagesTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification lifecycle observations by type and resulting status.",
			},
			[]string{"type", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_operation_duration_seconds",
				Help:      "Duration of engine operations by notification type and resulting status.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"type", "status"},
		),
		payloadBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_payload_bytes",
				Help:      "Payload size of observed notifications.",
				Buckets:   []float64{16, 64, 128, 256, 512, 1024, 2048, 4096},
			},
			[]string{"type"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"breaker"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker state transitions by target state.",
			},
			[]string{"breaker", "to"},
		),
		rateLimitRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Requests rejected by admission control.",
			},
		),
		rateLimitErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_errors_total",
				Help:      "Admission checks that failed open because the limiter backend errored.",
			},
		),
		retrySweepOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_sweep_items_total",
				Help:      "Notifications handled by the retry sweep grouped by outcome.",
			},
			[]string{"outcome"},
		),
		cleanupDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_deleted_total",
				Help:      "Notifications removed by retention cleanup.",
			},
		),
		dispatchMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_messages_total",
				Help:      "Dispatch queue messages grouped by action (published, acked, requeued, rejected).",
			},
			[]string{"action"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsTotal,
		m.operationDuration,
		m.payloadBytes,
		m.breakerState,
		m.breakerTransitions,
		m.rateLimitRejections,
		m.rateLimitErrors,
		m.retrySweepOutcomes,
		m.cleanupDeletedTotal,
		m.dispatchMessagesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterPendingGauge exposes the number of PENDING notifications, evaluated
// at scrape time.
func (m *Metrics) RegisterPendingGauge(fn func() float64) error {
	if m == nil || fn == nil {
		return nil
	}
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_pending",
			Help:      "Notifications currently waiting in PENDING.",
		},
		fn,
	))
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

// Observe records one lifecycle observation.
func (m *Metrics) Observe(notificationType string, status string, latency time.Duration, payloadBytes int) {
	if m == nil {
		return
	}
	typeLabel := normalizeLabel(notificationType)
	statusLabel := normalizeLabel(status)

	seconds := latency.Seconds()
	if seconds < 0 {
		seconds = 0
	}

	m.notificationsTotal.WithLabelValues(typeLabel, statusLabel).Inc()
	m.operationDuration.WithLabelValues(typeLabel, statusLabel).Observe(seconds)
	if payloadBytes > 0 {
		m.payloadBytes.WithLabelValues(typeLabel).Observe(float64(payloadBytes))
	}
}

// SetBreakerState records a breaker transition. state is the numeric value of
// the breaker state and toLabel its name.
func (m *Metrics) SetBreakerState(name string, state int, toLabel string) {
	if m == nil {
		return
	}
	nameLabel := normalizeLabel(name)
	m.breakerState.WithLabelValues(nameLabel).Set(float64(state))
	m.breakerTransitions.WithLabelValues(nameLabel, normalizeLabel(toLabel)).Inc()
}

func (m *Metrics) IncRateLimitRejected() {
	if m == nil {
		return
	}
	m.rateLimitRejections.Inc()
}

func (m *Metrics) IncRateLimitError() {
	if m == nil {
		return
	}
	m.rateLimitErrors.Inc()
}

func (m *Metrics) IncRetrySweep(outcome string) {
	if m == nil {
		return
	}
	m.retrySweepOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) AddCleanupDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupDeletedTotal.Add(float64(n))
}

func (m *Metrics) IncDispatch(action string) {
	if m == nil {
		return
	}
	m.dispatchMessagesTotal.WithLabelValues(normalizeLabel(action)).Inc()
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
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
