// Package metrics registers the Prometheus instrumentation consumed by
// the /metrics endpoint: send throughput, outbox publish outcomes, and
// hub occupancy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "conversation",
		Name:      "messages_sent_total",
		Help:      "Messages successfully appended to a conversation.",
	})

	MessageSendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chatcore",
		Subsystem: "conversation",
		Name:      "message_send_duration_seconds",
		Help:      "Latency of the send-message transaction.",
		Buckets:   prometheus.DefBuckets,
	})

	OutboxPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "outbox",
		Name:      "publish_total",
		Help:      "Outbox publish attempts by outcome.",
	}, []string{"outcome"})

	OutboxBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chatcore",
		Subsystem: "outbox",
		Name:      "claimed_batch_size",
		Help:      "Number of events claimed per notifier tick.",
		Buckets:   []float64{0, 1, 4, 16, 64, 128, 256},
	})

	HubConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatcore",
		Subsystem: "hub",
		Name:      "connected_clients",
		Help:      "Number of clients currently installed in the session hub.",
	})

	HubEnqueueTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "hub",
		Name:      "enqueue_total",
		Help:      "Outbound enqueue attempts by outcome (ok, not_connected, backpressure).",
	}, []string{"outcome"})

	HubInboundThrottleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "hub",
		Name:      "inbound_throttle_total",
		Help:      "Inbound commands skipped by reason (rate_limit, worker_backlog, result_backlog).",
	}, []string{"reason"})
)

// Register adds every collector to reg. Called once at startup; a
// second registration (e.g. in a table-driven test importing this
// package twice) would panic, so production code calls this exactly
// once from cmd/chatserver.
func Register(reg *prometheus.Registry) {
	reg.MustRegister(
		MessagesSentTotal,
		MessageSendDuration,
		OutboxPublishTotal,
		OutboxBatchSize,
		HubConnectedClients,
		HubEnqueueTotal,
		HubInboundThrottleTotal,
	)
}

// ObserveSendDuration is a small helper so callers can defer
// metrics.ObserveSendDuration(time.Now()) at the top of SendMessage.
func ObserveSendDuration(start time.Time) {
	MessageSendDuration.Observe(time.Since(start).Seconds())
}
