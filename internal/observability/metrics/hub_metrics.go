package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	DeliveryReasonDelivered     = "delivered"
	DeliveryReasonNoConnections = "no_connections"
	DeliveryReasonDropped       = "dropped"
	DeliveryReasonQueueFull     = "queue_full"
	DeliveryReasonFailed        = "failed"
)

const (
	WebhookFailureDeadlineExceeded     = "deadline_exceeded"
	WebhookFailureSerializationFailure = "serialization_failure"
	WebhookFailureUniqueViolation      = "unique_violation"
	WebhookFailureDBUnavailable        = "db_unavailable"
	WebhookFailureUnknown              = "unknown"
)

// HubMetrics exposes realtime hub health to prometheus.
type HubMetrics struct {
	connections     prometheus.Gauge
	groups          prometheus.Gauge
	framesDropped   prometheus.Counter
	dispatchQueue   prometheus.Gauge
	webhookFailures *prometheus.CounterVec
}

var (
	hubMetricsOnce sync.Once
	hubMetrics     *HubMetrics
)

// Hub returns the singleton hub metrics registry.
func Hub() *HubMetrics {
	return HubWithConfig(Config{})
}

// HubWithConfig returns the singleton hub metrics registry using config labels.
func HubWithConfig(cfg Config) *HubMetrics {
	hubMetricsOnce.Do(func() {
		hubMetrics = NewHubMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return hubMetrics
}

// ResetHubMetricsForTest resets the hub metrics singleton for tests.
func ResetHubMetricsForTest() {
	hubMetricsOnce = sync.Once{}
	hubMetrics = nil
}

func NewHubMetrics(registerer prometheus.Registerer, cfg Config) *HubMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	m := &HubMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "storefront_hub_connections",
			Help:        "Open realtime hub connections.",
			ConstLabels: constLabels,
		}),
		groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "storefront_hub_groups",
			Help:        "User groups with at least one member.",
			ConstLabels: constLabels,
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "storefront_hub_frames_dropped_total",
			Help:        "Frames dropped because a connection buffer was full.",
			ConstLabels: constLabels,
		}),
		dispatchQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "storefront_notification_dispatch_queue",
			Help:        "Notifications waiting for hub dispatch.",
			ConstLabels: constLabels,
		}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "storefront_payment_webhook_failures_total",
			Help:        "Webhook deliveries answered with a retryable error.",
			ConstLabels: constLabels,
		}, []string{"provider", "reason"}),
	}
	registerer.MustRegister(m.connections, m.groups, m.framesDropped, m.dispatchQueue, m.webhookFailures)
	return m
}

func (m *HubMetrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *HubMetrics) SetGroups(n int) {
	if m == nil {
		return
	}
	m.groups.Set(float64(n))
}

func (m *HubMetrics) IncFramesDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *HubMetrics) SetDispatchQueue(n int) {
	if m == nil {
		return
	}
	m.dispatchQueue.Set(float64(n))
}

func (m *HubMetrics) IncWebhookFailure(provider string, err error) {
	if m == nil {
		return
	}
	m.webhookFailures.WithLabelValues(provider, ClassifyWebhookFailure(err)).Inc()
}

// ClassifyWebhookFailure maps a processing error to a low-cardinality reason.
func ClassifyWebhookFailure(err error) string {
	if err == nil {
		return WebhookFailureUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WebhookFailureDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return WebhookFailureUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return WebhookFailureSerializationFailure
		case "23505":
			return WebhookFailureUniqueViolation
		case "57P01", "08006", "08003":
			return WebhookFailureDBUnavailable
		}
	}
	return WebhookFailureUnknown
}
