package metrics

import "github.com/prometheus/client_golang/prometheus"

// CommerceMetrics counts order capture, checkout and POS sync outcomes.
// A zero value (or nil) silently drops observations.
type CommerceMetrics struct {
	ordersCreated  *prometheus.CounterVec
	stockConflicts *prometheus.CounterVec
	checkout       *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	syncOutcomes   *prometheus.CounterVec
}

// NewCommerceMetrics registers the commerce counters on the provided registerer.
func NewCommerceMetrics(reg prometheus.Registerer) *CommerceMetrics {
	if reg == nil {
		return &CommerceMetrics{}
	}
	m := &CommerceMetrics{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibos_orders_created_total",
			Help: "Orders captured, by channel.",
		}, []string{"channel"}),
		stockConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibos_stock_conflicts_total",
			Help: "Order attempts rejected for insufficient stock, by channel.",
		}, []string{"channel"}),
		checkout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibos_checkout_session_transitions_total",
			Help: "Checkout session status transitions, by target status.",
		}, []string{"status"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibos_payment_webhooks_total",
			Help: "Payment webhook deliveries, by provider and result.",
		}, []string{"provider", "result"}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ibos_pos_sync_events_total",
			Help: "Offline POS order outcomes, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.ordersCreated, m.stockConflicts, m.checkout, m.webhooks, m.syncOutcomes)
	return m
}

func (m *CommerceMetrics) OrderCreated(channel string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *CommerceMetrics) StockConflict(channel string) {
	if m == nil || m.stockConflicts == nil {
		return
	}
	m.stockConflicts.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *CommerceMetrics) CheckoutTransition(status string, n int) {
	if m == nil || m.checkout == nil || n <= 0 {
		return
	}
	m.checkout.WithLabelValues(normalizeLabel(status)).Add(float64(n))
}

func (m *CommerceMetrics) Webhook(provider, result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

func (m *CommerceMetrics) SyncOutcome(outcome string) {
	if m == nil || m.syncOutcomes == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}
