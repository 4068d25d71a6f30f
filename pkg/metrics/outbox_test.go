package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.Published("order.created")
	m.Published("order.created")
	m.Retried("checkout.paid")
	m.DeadLettered("max_attempts")
	m.Notification("pubsub", "sent")
	m.Notification("pubsub", "failed")
	m.Notification("pubsub", "sent")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	checks := []struct {
		name, label, value string
		want               float64
	}{
		{"ibos_outbox_published_total", "event_type", "order.created", 2},
		{"ibos_outbox_publish_failures_total", "event_type", "checkout.paid", 1},
		{"ibos_outbox_dead_lettered_total", "reason", "max_attempts", 1},
		{"ibos_notifications_total", "result", "sent", 2},
		{"ibos_notifications_total", "result", "failed", 1},
	}
	for _, c := range checks {
		got, err := fetchCounterValue(mfs, c.name, c.label, c.value)
		if err != nil {
			t.Fatalf("fetch %s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s{%s=%s} expected %v, got %v", c.name, c.label, c.value, c.want, got)
		}
	}
}

func TestOutboxMetricsNilSafe(t *testing.T) {
	var m *OutboxMetrics
	m.Published("order.created")
	m.DeadLettered("non_retryable")
	NewOutboxMetrics(nil).Notification("log", "sent")
}

func TestServeExposesRegistryUntilCanceled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	reg := prometheus.NewRegistry()
	NewOutboxMetrics(reg).Published("order.created")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg, nil) }()

	var body string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		body = string(raw)
		break
	}
	if !strings.Contains(body, `ibos_outbox_published_total{event_type="order.created"} 1`) {
		t.Fatalf("expected published counter in exposition, got %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
