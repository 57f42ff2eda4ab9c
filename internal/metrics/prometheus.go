package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "orchestra"

var durationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// PrometheusCollector maps Collector calls onto lazily registered vectors.
// The label keys seen on the first call for a name fix that vector's labels;
// later calls missing a key report it as empty.
type PrometheusCollector struct {
	mu         sync.Mutex
	namespace  string
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	counters   map[string]*labeledCounter
	gauges     map[string]*labeledGauge
	histograms map[string]*labeledHistogram
}

type labeledCounter struct {
	keys []string
	vec  *prometheus.CounterVec
}

type labeledGauge struct {
	keys []string
	vec  *prometheus.GaugeVec
}

type labeledHistogram struct {
	keys []string
	vec  *prometheus.HistogramVec
}

// NewPrometheusCollector registers into a fresh registry when registry is nil.
func NewPrometheusCollector(registry *prometheus.Registry) *PrometheusCollector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &PrometheusCollector{
		namespace:  defaultNamespace,
		registerer: registry,
		gatherer:   registry,
		counters:   make(map[string]*labeledCounter),
		gauges:     make(map[string]*labeledGauge),
		histograms: make(map[string]*labeledHistogram),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the registry backing the collector.
func (c *PrometheusCollector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}

func (c *PrometheusCollector) IncrementCounter(name string, value float64, labels map[string]string) {
	if c == nil || value < 0 {
		return
	}
	c.mu.Lock()
	counter, ok := c.counters[name]
	if !ok {
		keys := labelKeys(labels)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      sanitizeName(name),
			Help:      helpText(name),
		}, keys)
		if err := c.registerer.Register(vec); err != nil {
			c.mu.Unlock()
			return
		}
		counter = &labeledCounter{keys: keys, vec: vec}
		c.counters[name] = counter
	}
	c.mu.Unlock()
	counter.vec.WithLabelValues(labelValues(counter.keys, labels)...).Add(value)
}

func (c *PrometheusCollector) RecordGauge(name string, value float64, labels map[string]string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	gauge, ok := c.gauges[name]
	if !ok {
		keys := labelKeys(labels)
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      sanitizeName(name),
			Help:      helpText(name),
		}, keys)
		if err := c.registerer.Register(vec); err != nil {
			c.mu.Unlock()
			return
		}
		gauge = &labeledGauge{keys: keys, vec: vec}
		c.gauges[name] = gauge
	}
	c.mu.Unlock()
	gauge.vec.WithLabelValues(labelValues(gauge.keys, labels)...).Set(value)
}

func (c *PrometheusCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	histogram, ok := c.histograms[name]
	if !ok {
		keys := labelKeys(labels)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      sanitizeName(name) + "_seconds",
			Help:      helpText(name),
			Buckets:   durationBuckets,
		}, keys)
		if err := c.registerer.Register(vec); err != nil {
			c.mu.Unlock()
			return
		}
		histogram = &labeledHistogram{keys: keys, vec: vec}
		c.histograms[name] = histogram
	}
	c.mu.Unlock()
	histogram.vec.WithLabelValues(labelValues(histogram.keys, labels)...).Observe(duration.Seconds())
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, sanitizeName(key))
	}
	sort.Strings(keys)
	return keys
}

func labelValues(keys []string, labels map[string]string) []string {
	values := make([]string, len(keys))
	if len(labels) == 0 {
		return values
	}
	normalized := make(map[string]string, len(labels))
	for key, value := range labels {
		normalized[sanitizeName(key)] = value
	}
	for i, key := range keys {
		values[i] = normalized[key]
	}
	return values
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	builder := strings.Builder{}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				builder.WriteRune('_')
			}
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	return builder.String()
}

func helpText(name string) string {
	return "orchestra " + strings.ReplaceAll(name, "_", " ")
}
