package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestEscrowMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEscrowMetrics(reg)
	m.IncReleased("shipping_event", "basic")
	m.IncReleased("shipping_event", "basic")
	m.IncRejected("release_request", "")
	m.IncWebhookEvent("delivered", "applied")
	m.IncQuoteFallback("provider_unavailable")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "escrow_released_total", "trigger", "shipping_event"); err != nil {
		t.Fatalf("fetch released: %v", err)
	} else if got != 2 {
		t.Fatalf("expected released=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "escrow_rejected_total", "code", "unknown"); err != nil {
		t.Fatalf("fetch rejected: %v", err)
	} else if got != 1 {
		t.Fatalf("expected rejected=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "shipping_webhook_events_total", "outcome", "applied"); err != nil {
		t.Fatalf("fetch webhook: %v", err)
	} else if got != 1 {
		t.Fatalf("expected webhook=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "shipping_quote_fallback_total", "reason", "provider_unavailable"); err != nil {
		t.Fatalf("fetch fallback: %v", err)
	} else if got != 1 {
		t.Fatalf("expected fallback=1, got %f", got)
	}
}

func TestNilEscrowMetricsIsNoop(t *testing.T) {
	var m *EscrowMetrics
	m.IncReleased("x", "y")
	m.IncRejected("x", "y")
	m.IncWebhookEvent("x", "y")
	m.IncQuoteFallback("x")
	NewEscrowMetrics(nil).IncReleased("x", "y")
}
