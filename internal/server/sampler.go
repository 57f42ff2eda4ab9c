package server

import (
	"time"

	"orchestra/internal/metrics"
)

func (s *Server) runSampler(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Server) sample() {
	now := s.now()
	s.recordConnectionGauges()
	s.metrics.RecordGauge(metrics.MessagesPerSecond, s.inbound.rate(now), nil)
	s.metrics.RecordGauge(metrics.BytesInPerSecond, s.inbound.byteRate(now), nil)
	s.metrics.RecordGauge(metrics.BytesOutPerSecond, s.outbound.byteRate(now), nil)
	s.metrics.RecordGauge(metrics.PendingAcks, float64(len(s.router.PendingAcks())), nil)
}

func (s *Server) recordConnectionGauges() {
	count := int64(s.registry.Count())
	for {
		peak := s.peak.Load()
		if count <= peak || s.peak.CompareAndSwap(peak, count) {
			break
		}
	}
	s.metrics.RecordGauge(metrics.ConcurrentConnections, float64(count), nil)
	s.metrics.RecordGauge(metrics.PeakConcurrentConnections, float64(s.peak.Load()), nil)
}
