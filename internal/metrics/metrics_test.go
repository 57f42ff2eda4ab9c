package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusCollectorExposesMetrics(t *testing.T) {
	collector := NewPrometheusCollector(prometheus.NewRegistry())
	collector.IncrementCounter(MessagesReceived, 2, map[string]string{"type": "TASK_ASSIGN"})
	collector.IncrementCounter(MessagesReceived, 1, map[string]string{"type": "TASK_ASSIGN"})
	collector.RecordGauge(ConcurrentConnections, 4, nil)
	collector.RecordDuration(MessageProcessingDuration, 3*time.Millisecond, map[string]string{"type": "ACK"})

	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(recorder.Body)
	text := string(body)

	for _, want := range []string{
		`orchestra_messages_received_total{type="TASK_ASSIGN"} 3`,
		`orchestra_concurrent_connections 4`,
		`orchestra_message_processing_duration_seconds_count{type="ACK"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, text)
		}
	}
}

func TestPrometheusCollectorFillsMissingLabels(t *testing.T) {
	collector := NewPrometheusCollector(nil)
	collector.IncrementCounter(RoutingErrors, 1, map[string]string{"reason": "offline"})
	collector.IncrementCounter(RoutingErrors, 1, nil)

	families, err := collector.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	total := 0.0
	for _, family := range families {
		if family.GetName() != "orchestra_routing_errors_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	if total != 2 {
		t.Fatalf("expected 2 routing errors, got %v", total)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"bytes_in_total": "bytes_in_total",
		"bytes-in.rate":  "bytes_in_rate",
		"9lives":         "_9lives",
		"":               "unnamed",
	}
	for raw, want := range cases {
		if got := sanitizeName(raw); got != want {
			t.Fatalf("sanitizeName(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestRecorder(t *testing.T) {
	recorder := NewRecorder()
	recorder.IncrementCounter(BytesIn, 10, nil)
	recorder.IncrementCounter(BytesIn, 5, nil)
	recorder.RecordGauge(PeakConcurrentConnections, 3, nil)
	recorder.RecordDuration(MessageProcessingDuration, time.Millisecond, map[string]string{"type": "TASK_ASSIGN"})

	if recorder.Counter(BytesIn) != 15 {
		t.Fatalf("expected 15 bytes in, got %v", recorder.Counter(BytesIn))
	}
	if value, ok := recorder.Gauge(PeakConcurrentConnections); !ok || value != 3 {
		t.Fatalf("expected peak 3, got %v (%v)", value, ok)
	}
	labels := recorder.Labels(MessageProcessingDuration)
	if len(labels) != 1 || labels[0]["type"] != "TASK_ASSIGN" {
		t.Fatalf("unexpected labels %v", labels)
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Fatalf("expected Nop for nil collector")
	}
	recorder := NewRecorder()
	if OrNop(recorder) != Collector(recorder) {
		t.Fatalf("expected collector passthrough")
	}
}
