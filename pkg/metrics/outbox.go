package metrics

import "github.com/prometheus/client_golang/prometheus"

// Relay outcomes reported by the outbox publisher.
const (
	RelayPublished    = "published"
	RelayRetry        = "retry"
	RelayDeadLettered = "dead_lettered"
)

// OutboxMetrics counts outbox rows relayed to Pub/Sub.
type OutboxMetrics struct {
	relayed *prometheus.CounterVec
	batches prometheus.Counter
}

// NewOutboxMetrics registers the relay counters. A nil registerer yields a no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	relayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_relayed_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_batch_errors_total",
		Help: "Publisher batches aborted by a database error.",
	})
	reg.MustRegister(relayed, batches)
	return &OutboxMetrics{relayed: relayed, batches: batches}
}

// IncRelayed counts one row outcome.
func (m *OutboxMetrics) IncRelayed(eventType, outcome string) {
	if m == nil || m.relayed == nil {
		return
	}
	m.relayed.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// IncBatchError counts an aborted batch.
func (m *OutboxMetrics) IncBatchError() {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Inc()
}
