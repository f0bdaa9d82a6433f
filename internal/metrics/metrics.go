package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	namespace = "netyora_chat"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Realtime metrics
	WebSocketConnections prometheus.Gauge
	RealtimeEventsTotal  *prometheus.CounterVec
	RealtimeDropsTotal   *prometheus.CounterVec

	// Chat metrics
	MessagesAppendedTotal *prometheus.CounterVec
	DownloadsTotal        *prometheus.CounterVec
	SweepDeletedTotal     prometheus.Counter
	SweepFailedTotal      prometheus.Counter
	SweepDuration         prometheus.Histogram
	InvitationsTotal      *prometheus.CounterVec

	// External collaborator metrics
	ExternalCallDuration *prometheus.HistogramVec
	ExternalCallErrors   *prometheus.CounterVec

	logger *zap.Logger
}

// New creates and registers all metrics with the default registry
func New(logger *zap.Logger) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, logger)
}

// NewWithRegistry creates and registers all metrics with a custom registry
func NewWithRegistry(registerer prometheus.Registerer, logger *zap.Logger) *Metrics {
	factory := promauto.With(registerer)

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),

		WebSocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections",
				Help:      "Current number of open realtime connections",
			},
		),
		RealtimeEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_events_total",
				Help:      "Realtime events received from clients",
			},
			[]string{"event"},
		),
		RealtimeDropsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_drops_total",
				Help:      "Advisory events dropped or connections closed under backpressure",
			},
			[]string{"reason"},
		),

		MessagesAppendedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_appended_total",
				Help:      "Messages appended to chats by kind",
			},
			[]string{"kind"},
		),
		DownloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attachment_downloads_total",
				Help:      "Attachment download attempts by outcome",
			},
			[]string{"outcome"},
		),
		SweepDeletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_deleted_total",
				Help:      "Attachments deleted by the expiration sweep",
			},
		),
		SweepFailedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_failed_total",
				Help:      "Attachment deletions that failed and will be retried",
			},
		),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of a full expiration sweep",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		InvitationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "video_invitation_transitions_total",
				Help:      "Video invitation state transitions",
			},
			[]string{"status"},
		),

		ExternalCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "external_call_duration_seconds",
				Help:      "Duration of calls to external collaborators",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "operation"},
		),
		ExternalCallErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_call_errors_total",
				Help:      "Failed calls to external collaborators",
			},
			[]string{"service", "operation"},
		),

		logger: logger,
	}
}

// safeExecute wraps metric operations with panic recovery
func (m *Metrics) safeExecute(operation string, fn func()) {
	if m == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic in metrics operation",
				zap.String("operation", operation),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
