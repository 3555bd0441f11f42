package metrics

import "github.com/prometheus/client_golang/prometheus"

// EscrowMetrics tracks escrow releases, webhook ingestion and shipping fallbacks.
type EscrowMetrics struct {
	released       *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	quoteFallbacks *prometheus.CounterVec
}

// NewEscrowMetrics registers the escrow metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	if reg == nil {
		return &EscrowMetrics{}
	}
	released := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_released_total",
		Help: "Escrow releases credited to seller wallets.",
	}, []string{"trigger", "verification_level"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_rejected_total",
		Help: "Escrow actions rejected by tier or state gating.",
	}, []string{"trigger", "code"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipping_webhook_events_total",
		Help: "Inbound shipping provider events by canonical status and outcome.",
	}, []string{"status", "outcome"})
	quoteFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipping_quote_fallback_total",
		Help: "Rate quotes served from the synthetic rate table.",
	}, []string{"reason"})
	reg.MustRegister(released, rejected, webhookEvents, quoteFallbacks)
	return &EscrowMetrics{
		released:       released,
		rejected:       rejected,
		webhookEvents:  webhookEvents,
		quoteFallbacks: quoteFallbacks,
	}
}

// IncReleased counts a successful release.
func (m *EscrowMetrics) IncReleased(trigger, level string) {
	if m == nil || m.released == nil {
		return
	}
	m.released.WithLabelValues(normalizeLabel(trigger), normalizeLabel(level)).Inc()
}

// IncRejected counts a rejected escrow action.
func (m *EscrowMetrics) IncRejected(trigger, code string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(trigger), normalizeLabel(code)).Inc()
}

// IncWebhookEvent counts an inbound provider event.
func (m *EscrowMetrics) IncWebhookEvent(status, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(status), normalizeLabel(outcome)).Inc()
}

// IncQuoteFallback counts a quote served from the fallback table.
func (m *EscrowMetrics) IncQuoteFallback(reason string) {
	if m == nil || m.quoteFallbacks == nil {
		return
	}
	m.quoteFallbacks.WithLabelValues(normalizeLabel(reason)).Inc()
}
