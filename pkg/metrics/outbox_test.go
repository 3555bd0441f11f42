package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncRelayed("escrow_released", RelayPublished)
	m.IncRelayed("escrow_released", RelayPublished)
	m.IncRelayed("", RelayDeadLettered)
	m.IncBatchError()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got := counterWithLabels(mfs, "outbox_relayed_total", map[string]string{"event_type": "escrow_released", "outcome": RelayPublished}); got != 2 {
		t.Fatalf("expected 2 published, got %f", got)
	}
	if got := counterWithLabels(mfs, "outbox_relayed_total", map[string]string{"event_type": "unknown", "outcome": RelayDeadLettered}); got != 1 {
		t.Fatalf("blank event type should be labelled unknown, got %f", got)
	}
	batch := findMetricFamily(mfs, "outbox_batch_errors_total")
	if batch == nil || batch.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatal("expected one batch error")
	}

	var nilMetrics *OutboxMetrics
	nilMetrics.IncRelayed("x", RelayRetry)
	nilMetrics.IncBatchError()
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewOutboxMetrics(reg).IncRelayed("wallet_withdrawal_requested", RelayRetry)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `outbox_relayed_total{event_type="wallet_withdrawal_requested",outcome="retry"} 1`) {
		t.Fatalf("exposition missing counter:\n%s", rec.Body.String())
	}
}
