package relay

import "github.com/prometheus/client_golang/prometheus"

const (
	DirectionRadioToChat = "radio_to_chat"
	DirectionChatToRadio = "chat_to_radio"
)

type Metrics struct {
	relayed         *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	sendFailures    *prometheus.CounterVec
	pluginFailures  *prometheus.CounterVec
	queueRejected   prometheus.Counter
	identityEntries prometheus.Gauge
	refreshFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_relayed_total",
			Help: "Messages delivered to the opposite network.",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Messages dropped by routing rules.",
		}, []string{"direction", "reason"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_send_failures_total",
			Help: "Outbound sends that failed or timed out.",
		}, []string{"direction"}),
		pluginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_plugin_failures_total",
			Help: "Plugin handler errors and panics.",
		}, []string{"plugin"}),
		queueRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_queue_rejected_total",
			Help: "Inbound events dropped because the relay queue stayed full.",
		}),
		identityEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_identity_cache_entries",
			Help: "Node names currently cached.",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_identity_refresh_failures_total",
			Help: "Identity cache refreshes that failed.",
		}),
	}

	reg.MustRegister(
		m.relayed,
		m.dropped,
		m.sendFailures,
		m.pluginFailures,
		m.queueRejected,
		m.identityEntries,
		m.refreshFailures,
	)
	return m
}

func (m *Metrics) Relayed(direction string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(direction).Inc()
}

func (m *Metrics) Dropped(direction, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(direction, reason).Inc()
}

func (m *Metrics) SendFailed(direction string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(direction).Inc()
}

func (m *Metrics) PluginFailed(plugin string) {
	if m == nil {
		return
	}
	m.pluginFailures.WithLabelValues(plugin).Inc()
}

func (m *Metrics) QueueRejected() {
	if m == nil {
		return
	}
	m.queueRejected.Inc()
}

func (m *Metrics) IdentityEntries(n int) {
	if m == nil {
		return
	}
	m.identityEntries.Set(float64(n))
}

func (m *Metrics) RefreshFailed() {
	if m == nil {
		return
	}
	m.refreshFailures.Inc()
}
