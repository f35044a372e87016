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

const metricsNamespace = "consult_payments"

// Metrics stores Prometheus collectors used by the API, reconciliation engine and sweep worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	paymentsInitiatedTotal  *prometheus.CounterVec
	paymentTransitionsTotal *prometheus.CounterVec
	signalsIgnoredTotal     *prometheus.CounterVec
	creditClaimsTotal       *prometheus.CounterVec
	webhooksReceivedTotal   *prometheus.CounterVec
	gatewayCallDuration     *prometheus.HistogramVec
	reconcileInflight       prometheus.Gauge
	reconcileEnqueuedTotal  prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		paymentsInitiatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "payments_initiated_total",
				Help:      "Total number of payment initiations grouped by result.",
			},
			[]string{"result"},
		),
		paymentTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "payment_transitions_total",
				Help:      "Total number of applied payment status transitions grouped by signal channel and target status.",
			},
			[]string{"channel", "to"},
		),
		signalsIgnoredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "signals_ignored_total",
				Help:      "Total number of settlement signals that did not change stored state.",
			},
			[]string{"channel", "reason"},
		),
		creditClaimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "credit_claims_total",
				Help:      "Total number of credit claim attempts grouped by result.",
			},
			[]string{"result"},
		),
		webhooksReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "webhooks_received_total",
				Help:      "Total number of gateway webhook deliveries grouped by outcome.",
			},
			[]string{"outcome"},
		),
		gatewayCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Payment gateway call duration in seconds grouped by operation.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"operation"},
		),
		reconcileInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "reconcile_inflight",
				Help:      "Current number of in-flight reconciliation polls.",
			},
		),
		reconcileEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "reconcile_enqueued_total",
				Help:      "Total number of stale pending payments enqueued for reconciliation.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.paymentsInitiatedTotal,
		m.paymentTransitionsTotal,
		m.signalsIgnoredTotal,
		m.creditClaimsTotal,
		m.webhooksReceivedTotal,
		m.gatewayCallDuration,
		m.reconcileInflight,
		m.reconcileEnqueuedTotal,
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

func (m *Metrics) IncPaymentInitiated(result string) {
	if m == nil {
		return
	}
	m.paymentsInitiatedTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncPaymentTransition(channel string, to string) {
	if m == nil {
		return
	}
	m.paymentTransitionsTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(to)).Inc()
}

func (m *Metrics) IncSignalIgnored(channel string, reason string) {
	if m == nil {
		return
	}
	m.signalsIgnoredTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncCreditClaim(result string) {
	if m == nil {
		return
	}
	m.creditClaimsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncWebhookReceived(outcome string) {
	if m == nil {
		return
	}
	m.webhooksReceivedTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveGatewayCall(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.gatewayCallDuration.WithLabelValues(normalizeLabel(operation)).Observe(seconds)
}

func (m *Metrics) IncReconcileInFlight() {
	if m == nil {
		return
	}
	m.reconcileInflight.Inc()
}

func (m *Metrics) DecReconcileInFlight() {
	if m == nil {
		return
	}
	m.reconcileInflight.Dec()
}

func (m *Metrics) AddReconcileEnqueued(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reconcileEnqueuedTotal.Add(float64(count))
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
