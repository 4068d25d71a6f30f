package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks the outbox publisher: what reached Pub/Sub, what will
// be retried, what was parked in the DLQ and how notifications fared.
type OutboxMetrics struct {
	published     *prometheus.CounterVec
	retried       *prometheus.CounterVec
	deadLettered  *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibos_outbox_published_total",
			Help: "Outbox events published, by event type.",
		}, []string{"event_type"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibos_outbox_publish_failures_total",
			Help: "Publish attempts that failed and will be retried, by event type.",
		}, []string{"event_type"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibos_outbox_dead_lettered_total",
			Help: "Outbox events moved to the DLQ, by reason.",
		}, []string{"reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibos_notifications_total",
			Help: "Customer notifications handed to the messaging sender, by sender and result.",
		}, []string{"sender", "result"}),
	}
	reg.MustRegister(m.published, m.retried, m.deadLettered, m.notifications)
	return m
}

func (m *OutboxMetrics) Published(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) Retried(eventType string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) DeadLettered(reason string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(reason)).Inc()
}

// Notification records a send attempt; result is "sent" or "failed".
func (m *OutboxMetrics) Notification(sender, result string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(sender), normalizeLabel(result)).Inc()
}
