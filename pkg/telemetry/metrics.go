package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics provides Prometheus metrics for stockweb.
type Metrics struct {
	config MetricsConfig

	// Page view metrics
	pageActions        *prometheus.CounterVec
	pageActionDuration *prometheus.HistogramVec

	// Backend fetch metrics
	fetchDuration *prometheus.HistogramVec
	fetchErrors   *prometheus.CounterVec

	// Event logger metrics
	eventLogSends *prometheus.CounterVec

	// UI event bus metrics
	uiEventsPublished *prometheus.CounterVec
	uiEventsDropped   prometheus.Counter

	// Trace export metrics
	traceFlushes *prometheus.CounterVec

	// Watch list metrics
	watchlistAdds *prometheus.CounterVec

	// HTTP server metrics
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance; every Record method checks for nil collectors.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	sizeBuckets := prometheus.ExponentialBuckets(100, 10, 6)

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		pageActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_actions_total",
				Help:      "Total number of page view actions by outcome",
			},
			[]string{"view", "action", "outcome"},
		),
		pageActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "page_action_duration_seconds",
				Help:      "Duration of page view actions in seconds",
				Buckets:   buckets,
			},
			[]string{"view", "action"},
		),

		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_fetch_duration_seconds",
				Help:      "Duration of backend API requests in seconds",
				Buckets:   buckets,
			},
			[]string{"endpoint", "status"},
		),
		fetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_fetch_errors_total",
				Help:      "Total number of failed backend API requests by error class",
			},
			[]string{"endpoint", "class"},
		),

		eventLogSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_log_sends_total",
				Help:      "Total number of event log deliveries by outcome",
			},
			[]string{"type", "outcome"},
		),

		uiEventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ui_events_published_total",
				Help:      "Total number of UI events published on the event bus",
			},
			[]string{"type"},
		),
		uiEventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ui_events_dropped_total",
				Help:      "Total number of UI events dropped because the buffer was full",
			},
		),

		traceFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trace_flushes_total",
				Help:      "Total number of explicit trace flushes by outcome",
			},
			[]string{"outcome"},
		),

		watchlistAdds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watchlist_adds_total",
				Help:      "Total number of watch list additions",
			},
			[]string{"kind", "duplicate"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   buckets,
			},
			[]string{"method", "route"},
		),
		httpRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "Size of HTTP requests in bytes",
				Buckets:   sizeBuckets,
			},
			[]string{"method", "route"},
		),
		httpResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "Size of HTTP responses in bytes",
				Buckets:   sizeBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.pageActions,
		m.pageActionDuration,
		m.fetchDuration,
		m.fetchErrors,
		m.eventLogSends,
		m.uiEventsPublished,
		m.uiEventsDropped,
		m.traceFlushes,
		m.watchlistAdds,
		m.httpRequests,
		m.httpDuration,
		m.httpRequestSize,
		m.httpResponseSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// Registry returns the registry backing these metrics, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPageAction records the outcome and duration of a page view action.
func (m *Metrics) RecordPageAction(view, action, outcome string, duration time.Duration) {
	if m == nil || m.pageActions == nil {
		return
	}
	m.pageActions.WithLabelValues(view, action, outcome).Inc()
	m.pageActionDuration.WithLabelValues(view, action).Observe(duration.Seconds())
}

// RecordFetch records a backend request. status is 0 when no response arrived.
func (m *Metrics) RecordFetch(endpoint string, status int, duration time.Duration) {
	if m == nil || m.fetchDuration == nil {
		return
	}
	m.fetchDuration.WithLabelValues(endpoint, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordFetchError records a failed backend request by error class.
func (m *Metrics) RecordFetchError(endpoint, class string) {
	if m == nil || m.fetchErrors == nil {
		return
	}
	m.fetchErrors.WithLabelValues(endpoint, class).Inc()
}

// RecordEventLogSend records one event log delivery attempt.
func (m *Metrics) RecordEventLogSend(eventType, outcome string) {
	if m == nil || m.eventLogSends == nil {
		return
	}
	m.eventLogSends.WithLabelValues(eventType, outcome).Inc()
}

// RecordUIEventPublished records an event accepted by the event bus.
func (m *Metrics) RecordUIEventPublished(eventType string) {
	if m == nil || m.uiEventsPublished == nil {
		return
	}
	m.uiEventsPublished.WithLabelValues(eventType).Inc()
}

// RecordUIEventDropped records an event rejected by a full event bus.
func (m *Metrics) RecordUIEventDropped() {
	if m == nil || m.uiEventsDropped == nil {
		return
	}
	m.uiEventsDropped.Inc()
}

// RecordTraceFlush records the result of an explicit trace flush.
func (m *Metrics) RecordTraceFlush(ok bool) {
	if m == nil || m.traceFlushes == nil {
		return
	}
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeError
	}
	m.traceFlushes.WithLabelValues(outcome).Inc()
}

// RecordWatchlistAdd records a watch list addition.
func (m *Metrics) RecordWatchlistAdd(kind string, duplicate bool) {
	if m == nil || m.watchlistAdds == nil {
		return
	}
	m.watchlistAdds.WithLabelValues(kind, strconv.FormatBool(duplicate)).Inc()
}

// RecordHTTPRequest records a served HTTP request by route template.
func (m *Metrics) RecordHTTPRequest(method, route string, code int, duration time.Duration, requestSize, responseSize int64) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	if requestSize >= 0 {
		m.httpRequestSize.WithLabelValues(method, route).Observe(float64(requestSize))
	}
	m.httpResponseSize.WithLabelValues(method, route).Observe(float64(responseSize))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewServer builds the HTTP server exposing metrics. It returns nil when
// metrics are disabled. The caller owns ListenAndServe and Shutdown.
func (m *Metrics) NewServer() *http.Server {
	if m == nil || !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
