package metrics

import (
	"sync"
	"time"
)

// Recorder keeps every call in memory. It backs tests and the status
// endpoint when no external collector is configured.
type Recorder struct {
	mu        sync.Mutex
	counters  map[string]float64
	gauges    map[string]float64
	durations map[string][]time.Duration
	labels    map[string][]map[string]string
}

func NewRecorder() *Recorder {
	return &Recorder{
		counters:  make(map[string]float64),
		gauges:    make(map[string]float64),
		durations: make(map[string][]time.Duration),
		labels:    make(map[string][]map[string]string),
	}
}

func (r *Recorder) IncrementCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += value
	r.recordLabelsLocked(name, labels)
}

func (r *Recorder) RecordGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = value
	r.recordLabelsLocked(name, labels)
}

func (r *Recorder) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[name] = append(r.durations[name], duration)
	r.recordLabelsLocked(name, labels)
}

func (r *Recorder) recordLabelsLocked(name string, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	copied := make(map[string]string, len(labels))
	for key, value := range labels {
		copied[key] = value
	}
	r.labels[name] = append(r.labels[name], copied)
}

func (r *Recorder) Counter(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

func (r *Recorder) Gauge(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.gauges[name]
	return value, ok
}

func (r *Recorder) Durations(name string) []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.durations[name]...)
}

// Labels returns the label sets recorded for name, in call order.
func (r *Recorder) Labels(name string) []map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]string(nil), r.labels[name]...)
}

// Snapshot returns copies of the counters and gauges.
func (r *Recorder) Snapshot() (map[string]float64, map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counters := make(map[string]float64, len(r.counters))
	for key, value := range r.counters {
		counters[key] = value
	}
	gauges := make(map[string]float64, len(r.gauges))
	for key, value := range r.gauges {
		gauges[key] = value
	}
	return counters, gauges
}
