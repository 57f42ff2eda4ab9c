// Package metrics defines the sink the bus reports counters, gauges, and
// durations to, with a Prometheus implementation and an in-memory recorder.
package metrics

import "time"

// Metric names emitted by the bus.
const (
	ConnectionsEstablished = "connections_established_total"
	MessagesReceived       = "messages_received_total"
	MessagesRouted         = "messages_routed_total"
	RoutingErrors          = "routing_errors_total"
	ValidationFailures     = "validation_failures_total"
	BytesIn                = "bytes_in_total"
	BytesOut               = "bytes_out_total"
	DashboardMirrorBytes   = "dashboard_mirror_bytes_total"
	ReplayedMessages       = "replayed_messages_total"
	AcksReceived           = "acks_received_total"

	ConcurrentConnections     = "concurrent_connections"
	PeakConcurrentConnections = "peak_concurrent_connections"
	MessagesPerSecond         = "messages_per_second"
	BytesInPerSecond          = "bytes_in_per_second"
	BytesOutPerSecond         = "bytes_out_per_second"
	PendingAcks               = "pending_acks"

	MessageProcessingDuration = "message_processing_duration"
)

// Collector receives instrumentation from the bus. Implementations must be
// safe for concurrent use.
type Collector interface {
	IncrementCounter(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordDuration(name string, duration time.Duration, labels map[string]string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncrementCounter(string, float64, map[string]string)     {}
func (Nop) RecordGauge(string, float64, map[string]string)          {}
func (Nop) RecordDuration(string, time.Duration, map[string]string) {}

// OrNop returns collector, or Nop when it is nil.
func OrNop(collector Collector) Collector {
	if collector == nil {
		return Nop{}
	}
	return collector
}
