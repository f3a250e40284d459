package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClientsConnected tracks the number of currently connected clients, per shard.
	ClientsConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mqtt_clients_connected",
			Help: "Number of currently connected MQTT clients",
		},
		[]string{"shard"},
	)

	// PacketsReceived counts decoded inbound packets by type, per shard.
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_packets_received_total",
			Help: "Total number of MQTT packets received by type",
		},
		[]string{"shard", "type"},
	)

	// PacketsSent counts encoded outbound packets by type, per shard.
	PacketsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_packets_sent_total",
			Help: "Total number of MQTT packets sent by type",
		},
		[]string{"shard", "type"},
	)

	// BytesReceived tracks bytes received off the wire, per shard.
	BytesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_bytes_received_total",
			Help: "Total bytes received from MQTT clients",
		},
		[]string{"shard"},
	)

	// BytesSent tracks bytes written to the wire, per shard.
	BytesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_bytes_sent_total",
			Help: "Total bytes sent to MQTT clients",
		},
		[]string{"shard"},
	)

	// ConnectionsTotal tracks total connection attempts, per shard.
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_connections_total",
			Help: "Total number of connection attempts",
		},
		[]string{"shard"},
	)

	// SubscriptionsActive tracks active subscriptions (broker-wide; the
	// topic index is shared across shards).
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_subscriptions_active",
		Help: "Number of active subscriptions",
	})

	// InflightMessages tracks in-flight QoS 1/2 outbound messages, per shard.
	InflightMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mqtt_inflight_messages",
			Help: "Number of in-flight QoS 1/2 outbound messages awaiting acknowledgement",
		},
		[]string{"shard"},
	)

	// BackLogLength tracks each shard's total queued (not yet inflight)
	// outbound PUBLISH backlog, a leading indicator of the
	// back_log_hard_cap QuotaExceeded disconnect.
	BackLogLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mqtt_back_log_length",
			Help: "Total queued outbound PUBLISH packets awaiting a flow-control slot",
		},
		[]string{"shard"},
	)

	// QueueBlocked counts TrySends/TryRecvs calls that returned Block,
	// labeled by which internal queue hit capacity.
	QueueBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_queue_blocked_total",
			Help: "Total number of non-blocking queue operations that returned Block",
		},
		[]string{"shard", "queue"},
	)
)
