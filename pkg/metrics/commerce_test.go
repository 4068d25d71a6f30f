package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCommerceMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCommerceMetrics(reg)

	m.OrderCreated("pos")
	m.OrderCreated("pos")
	m.StockConflict("online")
	m.CheckoutTransition("expired", 3)
	m.CheckoutTransition("expired", 0)
	m.Webhook("stripe", "duplicate")
	m.SyncOutcome("")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	checks := []struct {
		name, label, value string
		want               float64
	}{
		{"ibos_orders_created_total", "channel", "pos", 2},
		{"ibos_stock_conflicts_total", "channel", "online", 1},
		{"ibos_checkout_session_transitions_total", "status", "expired", 3},
		{"ibos_payment_webhooks_total", "result", "duplicate", 1},
		{"ibos_pos_sync_events_total", "outcome", "unknown", 1},
	}
	for _, c := range checks {
		got, err := fetchCounterValue(mfs, c.name, c.label, c.value)
		if err != nil {
			t.Fatalf("fetch %s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s expected %v, got %v", c.name, c.want, got)
		}
	}
}

func TestCommerceMetricsNilSafe(t *testing.T) {
	var m *CommerceMetrics
	m.OrderCreated("pos")
	m.Webhook("stub", "processed")
	NewCommerceMetrics(nil).SyncOutcome("created")
}
