package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the relay server, scraped from /metrics.
var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_failed_total",
		Help: "Total number of failed connection attempts",
	})

	AdmissionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_admissions_rejected_total",
		Help: "Total number of handshakes closed for unauthenticated identity",
	})

	GroupsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_groups_active",
		Help: "Current number of live relay groups",
	})

	envelopesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_envelopes_relayed_total",
		Help: "Total envelopes accepted for relay, by kind",
	}, []string{"kind"})

	deliveriesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_deliveries_dropped_total",
		Help: "Total per-member deliveries dropped (receiver buffer full or closing)",
	})

	decodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_decode_errors_total",
		Help: "Total inbound payloads that failed envelope decoding",
	})

	registryViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_registry_violations_total",
		Help: "Total membership invariant violations detected by the registry",
	})

	messagesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_stored_total",
		Help: "Total chat messages persisted through the REST API",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsFailed,
		AdmissionsRejected,
		GroupsActive,
		envelopesRelayed,
		deliveriesDropped,
		decodeErrors,
		registryViolations,
		messagesStored,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRelay counts an envelope accepted for relay. Kind is "chat" or
// "signaling".
func RecordRelay(kind string) {
	envelopesRelayed.WithLabelValues(kind).Inc()
}

// RecordDroppedDelivery counts a best-effort delivery that was dropped.
func RecordDroppedDelivery() {
	deliveriesDropped.Inc()
}

// RecordDecodeError counts an inbound payload that failed decoding.
func RecordDecodeError() {
	decodeErrors.Inc()
}

// RecordRegistryViolation counts a membership invariant violation.
func RecordRegistryViolation() {
	registryViolations.Inc()
}

// RecordMessageStored counts a chat message persisted via the REST API.
func RecordMessageStored() {
	messagesStored.Inc()
}
